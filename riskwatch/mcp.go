package riskwatch

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/riskwatch/kit"
)

// MCPServer returns an MCP server exposing the service tools.
func (s *Service) MCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "riskwatch", Version: "1.0.0"}, nil)
	s.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers all riskwatch tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerTriggerScan(srv)
	s.registerListAlerts(srv)
	s.registerSearchAlerts(srv)
	s.registerListReports(srv)
	s.registerStats(srv)
}

func (s *Service) endpoint(name string, fn kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(s.logger, name), kit.Recovery(s.logger))(fn)
}

func (s *Service) registerTriggerScan(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "riskwatch_trigger_scan",
		Description: "Scan every configured source now and return the new alerts",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, func(ctx context.Context, _ any) (any, error) {
		res, err := s.ManualScan(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"runId":     res.RunID,
			"newAlerts": len(res.Alerts),
			"urgent":    res.Urgent,
			"alerts":    res.Alerts,
		}, nil
	}), kit.DecodeJSON[req]())
}

func (s *Service) registerListAlerts(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "riskwatch_list_alerts",
		Description: "List the most recent risk alerts, newest first",
		InputSchema: kit.InputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum alerts to return (default 50)"},
		}),
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, func(ctx context.Context, r any) (any, error) {
		return s.ListAlerts(r.(*req).Limit)
	}), kit.DecodeJSON[req]())
}

func (s *Service) registerSearchAlerts(srv *mcp.Server) {
	type req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "riskwatch_search_alerts",
		Description: "Full-text search over archived alerts (title, impact, summary)",
		InputSchema: kit.InputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Search terms, all must match"},
			"limit": map[string]any{"type": "integer", "description": "Maximum results (default 20)"},
		}, "query"),
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return s.SearchAlerts(ctx, p.Query, p.Limit)
	}), kit.DecodeJSON[req]())
}

func (s *Service) registerListReports(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "riskwatch_list_reports",
		Description: "List generated risk reports, newest first",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, func(ctx context.Context, _ any) (any, error) {
		return s.ListReports()
	}), kit.DecodeJSON[req]())
}

func (s *Service) registerStats(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "riskwatch_stats",
		Description: "Alert totals, last scan time and scheduler state",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, func(ctx context.Context, _ any) (any, error) {
		return s.Stats()
	}), kit.DecodeJSON[req]())
}
