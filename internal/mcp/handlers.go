package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/pulse/internal/errors"
	"github.com/hpungsan/pulse/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *ops.Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *ops.Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleStatus handles break_status.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.svc.Status())
}

// HandleForce handles break_force.
func (h *Handlers) HandleForce(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.svc.Force())
}

// HandleAccept handles break_accept.
func (h *Handlers) HandleAccept(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.svc.Accept())
}

// HandleChoose handles break_choose.
func (h *Handlers) HandleChoose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.ChooseInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := h.svc.Choose(input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDismiss handles break_dismiss.
func (h *Handlers) HandleDismiss(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.DismissInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := h.svc.Dismiss(input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleComplete handles break_complete.
func (h *Handlers) HandleComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.EndInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := h.svc.Complete(input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSkip handles break_skip.
func (h *Handlers) HandleSkip(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.EndInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := h.svc.Skip(input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleFeedback handles break_feedback.
func (h *Handlers) HandleFeedback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.FeedbackInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := h.svc.Feedback(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleClose handles break_close.
func (h *Handlers) HandleClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.svc.CloseFeedback())
}

// HandleIngest handles sample_ingest.
func (h *Handlers) HandleIngest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.IngestInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := h.svc.Ingest(input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePrefs handles prefs_list.
func (h *Handlers) HandlePrefs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.svc.Preferences())
}

// errorResult turns err into an IsError result. INTERNAL errors carry a
// generic message and no details.
func errorResult(err error) *mcp.CallToolResult {
	errorObj := map[string]any{
		"code":    errors.ErrInternal,
		"message": "an internal error occurred",
		"status":  500,
	}

	var pErr *errors.PulseError
	if stderrors.As(err, &pErr) && pErr.Code != errors.ErrInternal {
		errorObj["code"] = pErr.Code
		errorObj["message"] = pErr.Message
		if err != error(pErr) {
			errorObj["message"] = err.Error()
		}
		errorObj["status"] = pErr.Status
		if pErr.Details != nil {
			errorObj["details"] = pErr.Details
		}
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
