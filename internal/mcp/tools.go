package mcp

import "github.com/mark3labs/mcp-go/mcp"

var statusToolDef = mcp.NewTool("break_status",
	mcp.WithDescription("Current break companion state: smoothed stress, suggestion, active break, feedback chat and cooldown."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var forceToolDef = mcp.NewTool("break_force",
	mcp.WithDescription("Raise a break suggestion now, ignoring the stress threshold and cooldown. Only applies when idle."),
)

var acceptToolDef = mcp.NewTool("break_accept",
	mcp.WithDescription("Accept the suggestion currently shown."),
)

var chooseToolDef = mcp.NewTool("break_choose",
	mcp.WithDescription("Start the break. Omit variant_id to keep the suggested variant."),
	mcp.WithString("variant_id", mcp.Description("Catalog variant to perform instead of the suggestion")),
)

var dismissToolDef = mcp.NewTool("break_dismiss",
	mcp.WithDescription("Dismiss a pending or shown suggestion. No new suggestion is raised until the cooldown passes."),
	mcp.WithNumber("cooldown_seconds", mcp.Description("Override the default dismissal cooldown"), mcp.Min(0)),
)

var completeToolDef = mcp.NewTool("break_complete",
	mcp.WithDescription("Mark the active break as completed."),
	mcp.WithString("sentiment",
		mcp.Description("How the break felt; when omitted it is taken from the feedback chat"),
		mcp.Enum("positive", "neutral", "negative", "none"),
	),
)

var skipToolDef = mcp.NewTool("break_skip",
	mcp.WithDescription("Mark the active break as skipped."),
	mcp.WithString("sentiment",
		mcp.Description("How the break felt; when omitted it is taken from the feedback chat"),
		mcp.Enum("positive", "neutral", "negative", "none"),
	),
)

var feedbackToolDef = mcp.NewTool("break_feedback",
	mcp.WithDescription("Send a feedback message about the finished break and get the assistant's reply."),
	mcp.WithString("text", mcp.Required(), mcp.Description("What the user said")),
)

var closeToolDef = mcp.NewTool("break_close",
	mcp.WithDescription("Close the feedback chat and return to idle."),
)

var ingestToolDef = mcp.NewTool("sample_ingest",
	mcp.WithDescription("Feed one stress reading (0-100) from the vision sensor."),
	mcp.WithNumber("stress_level", mcp.Required(), mcp.Description("Raw stress reading")),
	mcp.WithBoolean("user_present", mcp.Description("Whether a face was detected (default true)")),
)

var prefsToolDef = mcp.NewTool("prefs_list",
	mcp.WithDescription("Learned preference score and selection estimate for each break variant."),
	mcp.WithReadOnlyHintAnnotation(true),
)
