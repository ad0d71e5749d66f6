// Package breaks holds the read-only catalog of break variants and the
// concrete activities offered under each one.
package breaks

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Activity is one concrete exercise within a variant.
type Activity struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

// Variant is a kind of microbreak. The set is fixed at startup.
type Variant struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Category    string     `json:"category" yaml:"category"`
	Description string     `json:"description" yaml:"description"`
	Activities  []Activity `json:"activities,omitempty" yaml:"activities,omitempty"`
}

// DefaultActivity is what is performed when a variant lists no activities.
func (v Variant) DefaultActivity() Activity {
	return Activity{Title: v.Title, Description: v.Description}
}

// Catalog is an immutable, ordered set of variants.
type Catalog struct {
	variants []Variant
	byID     map[string]int
}

// NewCatalog validates variants and builds a catalog. IDs must be non-empty
// and unique; at least one variant is required.
func NewCatalog(variants []Variant) (*Catalog, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("catalog must contain at least one variant")
	}

	c := &Catalog{
		variants: make([]Variant, 0, len(variants)),
		byID:     make(map[string]int, len(variants)),
	}
	for i, v := range variants {
		v.ID = strings.TrimSpace(v.ID)
		if v.ID == "" {
			return nil, fmt.Errorf("variant %d: id is required", i)
		}
		if _, dup := c.byID[v.ID]; dup {
			return nil, fmt.Errorf("variant %q: duplicate id", v.ID)
		}
		if v.Title == "" {
			v.Title = v.ID
		}
		v.Activities = append([]Activity(nil), v.Activities...)
		c.byID[v.ID] = len(c.variants)
		c.variants = append(c.variants, v)
	}
	return c, nil
}

// Variants returns a copy of the catalog in declaration order.
func (c *Catalog) Variants() []Variant {
	out := make([]Variant, len(c.variants))
	copy(out, c.variants)
	return out
}

// Get looks up a variant by id.
func (c *Catalog) Get(id string) (Variant, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Variant{}, false
	}
	return c.variants[i], true
}

// IDs returns variant ids in declaration order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.variants))
	for i, v := range c.variants {
		ids[i] = v.ID
	}
	return ids
}

// Len returns the number of variants.
func (c *Catalog) Len() int {
	return len(c.variants)
}

type catalogFile struct {
	Variants []Variant `yaml:"variants"`
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return NewCatalog(f.Variants)
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(defaultVariants)
	if err != nil {
		panic(err)
	}
	return c
}

var defaultVariants = []Variant{
	{
		ID:          "breathing",
		Title:       "Breathing",
		Category:    "Breathing",
		Description: "Slow your breath for a minute: in through the nose, out through the mouth.",
		Activities: []Activity{
			{Title: "Box Breathing", Description: "Inhale for 4s, hold for 4s, exhale for 4s, hold for 4s. Repeat."},
			{Title: "4-7-8 Breathing", Description: "Inhale for 4s, hold for 7s, exhale slowly for 8s."},
			{Title: "Diaphragmatic Breathing", Description: "Focus on deep belly breaths, letting your stomach expand."},
		},
	},
	{
		ID:          "stretch",
		Title:       "Stretch",
		Category:    "Stretching",
		Description: "Loosen up your neck, shoulders and wrists with a short stretch.",
		Activities: []Activity{
			{Title: "Neck Rolls", Description: "Gently roll your head side to side, then front to back."},
			{Title: "Shoulder Shrugs", Description: "Lift your shoulders towards your ears, hold, then release."},
			{Title: "Wrist & Finger Stretch", Description: "Extend arms, flex wrists up/down, spread fingers wide."},
			{Title: "Torso Twist", Description: "While seated, gently twist your upper body side to side."},
		},
	},
	{
		ID:          "eye-rest",
		Title:       "Eye Rest",
		Category:    "Eyes",
		Description: "Give your eyes a break from the screen.",
		Activities: []Activity{
			{Title: "20-20-20 Rule", Description: "Look at something 20 feet away for 20 seconds."},
			{Title: "Eye Palming", Description: "Rub hands together, gently cup over closed eyes, breathe deeply."},
			{Title: "Focus Shift", Description: "Alternate focus between a near object and a distant one."},
		},
	},
	{
		ID:          "mindful-moment",
		Title:       "Mindful Moment",
		Category:    "Mind",
		Description: "Pause and notice what is around you right now.",
		Activities: []Activity{
			{Title: "Mindful Observation", Description: "Notice 3 things you can see and 2 things you can hear right now."},
			{Title: "Quick Gratitude", Description: "Think of one small thing you're grateful for."},
		},
	},
	{
		ID:          "puzzle",
		Title:       "Puzzle",
		Category:    "Mind",
		Description: "Switch gears with a very short mental puzzle.",
		Activities: []Activity{
			{Title: "Number Sequence", Description: "Find the next number in a short sequence."},
			{Title: "Word Ladder", Description: "Change one letter at a time to turn one word into another."},
		},
	},
}
