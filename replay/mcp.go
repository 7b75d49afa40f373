package replay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/horosreplay/kit"
)

// RegisterMCP registers the recorder control tools on srv. The segment
// tools are registered only when store is not nil.
func (r *Recorder) RegisterMCP(srv *mcp.Server, store *Store) {
	r.registerStatusTool(srv)
	r.registerFlushTool(srv)
	r.registerSnapshotTool(srv)
	r.registerViewChangeTool(srv)
	r.registerErrorTool(srv)
	if store != nil {
		registerListSegmentsTool(srv, store, r.logger)
		registerGetSegmentTool(srv, store, r.logger)
	}
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// session tags the call context with the recorder session.
func (r *Recorder) session(ctx context.Context) context.Context {
	return kit.WithSessionID(ctx, r.sessionID)
}

func (r *Recorder) noArgs(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{EnrichCtx: r.session}, nil
}

func decodeInto[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var v T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &v); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &v}, nil
}

// decodeFor is decodeInto with the recorder session in the context.
func decodeFor[T any](r *Recorder) func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		res, err := decodeInto[T](req)
		if err != nil {
			return nil, err
		}
		res.EnrichCtx = r.session
		return res, nil
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

func (r *Recorder) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "replay_status",
		Description: "Recorder state, current session and view, and diagnostic counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return r.Status(), nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(r.logger, tool.Name)(endpoint), r.noArgs)
}

func (r *Recorder) registerFlushTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "replay_flush",
		Description: "Emit pending records and seal the open segment.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		if err := r.Flush(); err != nil {
			return nil, err
		}
		return statusResponse{Status: "flushed"}, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(r.logger, tool.Name)(endpoint), r.noArgs)
}

func (r *Recorder) registerSnapshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "replay_snapshot",
		Description: "Append a full snapshot of the current document to the open segment.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		if err := r.TakeFullSnapshot(); err != nil {
			return nil, err
		}
		return statusResponse{Status: "snapshot taken"}, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(r.logger, tool.Name)(endpoint), r.noArgs)
}

type viewChangeRequest struct {
	ViewID string `json:"view_id,omitempty"`
}

type viewChangeResponse struct {
	ViewID string `json:"view_id"`
}

func (r *Recorder) registerViewChangeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "replay_view_change",
		Description: "End the current view and start a new one with a full snapshot.",
		InputSchema: inputSchema(map[string]any{
			"view_id": map[string]any{"type": "string", "description": "Id of the new view (generated when empty)"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		id, err := r.ViewChange(req.(*viewChangeRequest).ViewID)
		if err != nil {
			return nil, err
		}
		return viewChangeResponse{ViewID: id}, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(r.logger, tool.Name)(endpoint), decodeFor[viewChangeRequest](r))
}

type errorRequest struct {
	Stack string `json:"stack"`
}

func (r *Recorder) registerErrorTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "replay_error",
		Description: "Report an error raised while handling user input, for dead and error click detection.",
		InputSchema: inputSchema(map[string]any{
			"stack": map[string]any{"type": "string", "description": "Error stack or message"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		if err := r.HandledError(req.(*errorRequest).Stack); err != nil {
			return nil, err
		}
		return statusResponse{Status: "recorded"}, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(r.logger, tool.Name)(endpoint), decodeFor[errorRequest](r))
}

type listSegmentsRequest struct {
	SessionID string `json:"session_id,omitempty"`
	ViewID    string `json:"view_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func registerListSegmentsTool(srv *mcp.Server, store *Store, logger *slog.Logger) {
	tool := &mcp.Tool{
		Name:        "replay_list_segments",
		Description: "List stored segments in recording order, optionally for one session or view.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Filter by session"},
			"view_id":    map[string]any{"type": "string", "description": "Filter by view"},
			"limit":      map[string]any{"type": "integer", "description": "Max results (default 100)"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		q := req.(*listSegmentsRequest)
		if q.Limit <= 0 {
			q.Limit = 100
		}
		return store.List(ctx, StoreFilter{SessionID: q.SessionID, ViewID: q.ViewID, Limit: q.Limit})
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(logger, tool.Name)(endpoint), decodeInto[listSegmentsRequest])
}

type getSegmentRequest struct {
	ID string `json:"id"`
}

func registerGetSegmentTool(srv *mcp.Server, store *Store, logger *slog.Logger) {
	tool := &mcp.Tool{
		Name:        "replay_get_segment",
		Description: "Return one stored segment as JSON.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Segment id"},
		}, []string{"id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return store.Get(ctx, req.(*getSegmentRequest).ID)
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(logger, tool.Name)(endpoint), decodeInto[getSegmentRequest])
}
