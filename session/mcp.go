package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domatlas/history"
	"github.com/hazyhaar/domatlas/kit"
)

// RegisterMCP registers domatlas tools on an MCP server.
func (s *Session) RegisterMCP(srv *mcp.Server) {
	s.registerScanTool(srv)
	s.registerRenderTool(srv)
	s.registerSnapshotTool(srv)
	s.registerRollbackTool(srv)
	s.registerExportTool(srv)
	s.registerImportTool(srv)
}

// toolMiddleware logs every tool call with its transport, request id and
// duration. Applied to each endpoint through kit.Chain.
func (s *Session) toolMiddleware(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"tool", name,
				"transport", kit.GetTransport(ctx),
				"request_id", kit.GetRequestID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				s.logger.Warn("session: tool call failed", append(attrs, "error", err)...)
			} else {
				s.logger.Debug("session: tool call", attrs...)
			}
			return resp, err
		}
	}
}

func (s *Session) registerTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	wrapped := kit.Chain(s.toolMiddleware(tool.Name))(endpoint)
	kit.RegisterMCPTool(srv, tool, wrapped, decode)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// --- scan ---

func (s *Session) registerScanTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domatlas_scan",
		Description: "Rescan the page and return its structure hash and the available highlight indexes.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		s.Invalidate()
		tree, err := s.ScanPage(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"structure_hash": tree.StructureHash,
			"indexes":        tree.Selectors.Indexes(),
		}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}

// --- render ---

func (s *Session) registerRenderTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domatlas_render",
		Description: "Render the page as indexed text: one [index]<tag>text</tag> line per interactive element, with *[index]* marking elements new since the previous scan.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		text, err := s.Render(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"rendered": text}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}

// --- snapshot ---

type snapshotToolRequest struct {
	Description string `json:"description,omitempty"`
}

func (s *Session) registerSnapshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domatlas_snapshot",
		Description: "Take a history snapshot of the current page state. Starts observing if needed.",
		InputSchema: inputSchema(map[string]any{
			"description": map[string]any{"type": "string", "description": "Optional label for the snapshot"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*snapshotToolRequest)
		if !s.hist.Observing() {
			s.hist.StartObserving()
		}
		return s.hist.CreateSnapshot(ctx, r.Description)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r snapshotToolRequest
		// All arguments are optional; a call without any sends no payload.
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}

// --- rollback ---

type rollbackToolRequest struct {
	SnapshotID     string `json:"snapshot_id,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	CreateSnapshot bool   `json:"create_snapshot,omitempty"`
}

func (s *Session) registerRollbackTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domatlas_rollback",
		Description: "Roll the page history back to a prior snapshot, by id or by timestamp. The restored state is verified against the snapshot's structure hash.",
		InputSchema: inputSchema(map[string]any{
			"snapshot_id":     map[string]any{"type": "string", "description": "Target snapshot ID"},
			"timestamp":       map[string]any{"type": "integer", "description": "Epoch milliseconds; the closest snapshot at or before it is used"},
			"create_snapshot": map[string]any{"type": "boolean", "description": "Snapshot the current state before rolling back"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*rollbackToolRequest)
		res, err := s.hist.Rollback(ctx, history.RollbackOptions{
			SnapshotID:     r.SnapshotID,
			Timestamp:      r.Timestamp,
			CreateSnapshot: r.CreateSnapshot,
		})
		if err != nil {
			return nil, err
		}
		s.Invalidate()
		return res, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r rollbackToolRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}

// --- export ---

func (s *Session) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domatlas_history_export",
		Description: "Export the full snapshot tree as a versioned JSON document.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		data, err := s.hist.Export()
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}

// --- import ---

type importToolRequest struct {
	Document json.RawMessage `json:"document"`
}

func (s *Session) registerImportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domatlas_history_import",
		Description: "Replace the snapshot tree with a previously exported document. Unknown versions are rejected.",
		InputSchema: inputSchema(map[string]any{
			"document": map[string]any{"type": "object", "description": "An export produced by domatlas_history_export"},
		}, []string{"document"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*importToolRequest)
		if err := s.hist.Import(r.Document); err != nil {
			return nil, err
		}
		return map[string]string{"status": "imported"}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r importToolRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}
