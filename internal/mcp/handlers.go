package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/EstellaNines/Vertias-sub003/internal/engine"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	engine *engine.Engine
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(e *engine.Engine) *Handlers {
	return &Handlers{engine: e}
}

// Request types for each tool

// ClearRequest represents the arguments for clear_all_data.
type ClearRequest struct {
	Confirm bool `json:"confirm"`
}

// HistoryRequest represents the arguments for history.
type HistoryRequest struct {
	Domain string `json:"domain,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ReportRequest represents the arguments for report.
type ReportRequest struct {
	HTML         bool   `json:"html,omitempty"`
	HistoryLimit int    `json:"history_limit,omitempty"`
	Path         string `json:"path,omitempty"`
}

// Handler implementations

// HandleManualSave handles the manual_save tool call.
func (h *Handlers) HandleManualSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Save(ctx, h.engine)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleManualLoad handles the manual_load tool call.
func (h *Handlers) HandleManualLoad(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Load(ctx, h.engine)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleClearAllData handles the clear_all_data tool call.
func (h *Handlers) HandleClearAllData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClearRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Clear(ctx, h.engine, ops.ClearInput{Confirm: input.Confirm})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleGetStats handles the get_stats tool call.
func (h *Handlers) HandleGetStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Stats(ctx, h.engine)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleHistory handles the history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.History(h.engine, ops.HistoryInput{
		Domain: input.Domain,
		Limit:  input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleMigrate handles the migrate tool call.
func (h *Handlers) HandleMigrate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Migrate(ctx, h.engine)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleReport handles the report tool call.
func (h *Handlers) HandleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Report(ctx, h.engine, ops.ReportInput{
		HTML:         input.HTML,
		HistoryLimit: input.HistoryLimit,
		Path:         input.Path,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Details of internal errors are withheld; they can carry paths or SQL.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var vErr *errors.VertiasError
	if stderrors.As(err, &vErr) {
		msg := vErr.Message
		if err != error(vErr) {
			// Keep the wrapping context
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    vErr.Code,
			"message": msg,
		}
		if vErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if vErr.Details != nil {
			errorObj["details"] = vErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
