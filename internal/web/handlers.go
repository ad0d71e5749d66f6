package web

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hpungsan/pulse/internal/errors"
	"github.com/hpungsan/pulse/internal/ops"
	"github.com/hpungsan/pulse/internal/session"
)

// maxBodyBytes bounds request bodies on the API and form routes.
const maxBodyBytes = 64 << 10

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	svc      *ops.Service
	renderer *Renderer
	version  string
	logger   *zap.Logger
}

func newHandlers(svc *ops.Service, version string, logger *zap.Logger) (*Handlers, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	renderer, err := NewRenderer(templateSub, version, logger)
	if err != nil {
		return nil, err
	}
	return &Handlers{svc: svc, renderer: renderer, version: version, logger: logger}, nil
}

// actionInput is the union of the parameters break commands accept.
type actionInput struct {
	VariantID       string `json:"variant_id,omitempty"`
	CooldownSeconds *int   `json:"cooldown_seconds,omitempty"`
	Sentiment       string `json:"sentiment,omitempty"`
	Text            string `json:"text,omitempty"`
}

type actionFunc func(ctx context.Context, svc *ops.Service, in actionInput) (any, error)

var actions = map[string]actionFunc{
	"force": func(_ context.Context, svc *ops.Service, _ actionInput) (any, error) {
		return svc.Force(), nil
	},
	"accept": func(_ context.Context, svc *ops.Service, _ actionInput) (any, error) {
		return svc.Accept(), nil
	},
	"choose": func(_ context.Context, svc *ops.Service, in actionInput) (any, error) {
		return svc.Choose(ops.ChooseInput{VariantID: in.VariantID})
	},
	"dismiss": func(_ context.Context, svc *ops.Service, in actionInput) (any, error) {
		return svc.Dismiss(ops.DismissInput{CooldownSeconds: in.CooldownSeconds})
	},
	"complete": func(_ context.Context, svc *ops.Service, in actionInput) (any, error) {
		return svc.Complete(ops.EndInput{Sentiment: in.Sentiment})
	},
	"skip": func(_ context.Context, svc *ops.Service, in actionInput) (any, error) {
		return svc.Skip(ops.EndInput{Sentiment: in.Sentiment})
	},
	"feedback": func(ctx context.Context, svc *ops.Service, in actionInput) (any, error) {
		return svc.Feedback(ctx, ops.FeedbackInput{Text: in.Text})
	},
	"close": func(_ context.Context, svc *ops.Service, _ actionInput) (any, error) {
		return svc.CloseFeedback(), nil
	},
}

func lookupAction(name string) (actionFunc, error) {
	fn, ok := actions[name]
	if !ok {
		return nil, errors.NewNotFound("action", name)
	}
	return fn, nil
}

// HandleStatusPage handles GET /.
func (h *Handlers) HandleStatusPage(w http.ResponseWriter, r *http.Request) {
	status := h.svc.Status()
	state := status.State.String()

	data := StatusPageData{
		PageData: PageData{
			Title:   "Status",
			Version: h.version,
			Nav:     "status",
			// Pages with text entry are not refreshed under the user.
			Refresh: status.State != session.AwaitingFeedback && status.State != session.AwaitingChoice,
		},
		Status:    status,
		StateName: state,
		Variants:  h.svc.Machine().Catalog().Variants(),
	}
	if status.Message != "" {
		data.Message = renderMarkdown(status.Message)
	}
	h.renderer.renderPage(w, "status", data)
}

// HandlePrefsPage handles GET /prefs.
func (h *Handlers) HandlePrefsPage(w http.ResponseWriter, r *http.Request) {
	h.renderer.renderPage(w, "prefs", PrefsPageData{
		PageData: PageData{Title: "Preferences", Version: h.version, Nav: "prefs"},
		Prefs:    h.svc.Preferences(),
	})
}

// HandleHistoryPage handles GET /history.
func (h *Handlers) HandleHistoryPage(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	out, err := h.svc.History(r.Context(), ops.HistoryInput{Limit: limit})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderer.renderPage(w, "history", HistoryPageData{
		PageData: PageData{Title: "History", Version: h.version, Nav: "history"},
		Sessions: out.Sessions,
	})
}

// HandleFormAction handles POST /break/{action} from the status page and
// redirects back to it.
func (h *Handlers) HandleFormAction(w http.ResponseWriter, r *http.Request) {
	fn, err := lookupAction(r.PathValue("action"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form body"))
		return
	}

	in := actionInput{
		VariantID: r.PostFormValue("variant_id"),
		Sentiment: r.PostFormValue("sentiment"),
		Text:      r.PostFormValue("text"),
	}
	if v := r.PostFormValue("cooldown_seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("cooldown_seconds must be an integer"))
			return
		}
		in.CooldownSeconds = &n
	}

	if _, err := fn(r.Context(), h.svc, in); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleAPIAction handles POST /api/break/{action}. An empty JSON body is allowed.
func (h *Handlers) HandleAPIAction(w http.ResponseWriter, r *http.Request) {
	fn, err := lookupAction(r.PathValue("action"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	in, err := decodeBody[actionInput](w, r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	out, err := fn(r.Context(), h.svc, in)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPIStatus handles GET /api/status.
func (h *Handlers) HandleAPIStatus(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, h.svc.Status())
}

// HandleAPISample handles POST /api/samples.
func (h *Handlers) HandleAPISample(w http.ResponseWriter, r *http.Request) {
	in, err := decodeBody[ops.IngestInput](w, r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	out, err := h.svc.Ingest(in)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPIPreferences handles GET /api/preferences.
func (h *Handlers) HandleAPIPreferences(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, h.svc.Preferences())
}

// HandleAPIHistory handles GET /api/history.
func (h *Handlers) HandleAPIHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	out, err := h.svc.History(r.Context(), ops.HistoryInput{Limit: limit})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// decodeBody decodes a JSON request body into T, rejecting other content
// types, unknown fields and trailing data. An empty body yields the zero value.
func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return v, errors.NewInvalidRequest("Content-Type must be application/json")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return v, nil
		}
		return v, errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	if dec.More() {
		return v, errors.NewInvalidRequest("invalid JSON body: trailing data")
	}
	return v, nil
}

// parseIntParam reads an integer query parameter, returning def when absent.
func parseIntParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}
