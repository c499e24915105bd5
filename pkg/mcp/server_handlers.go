package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (s *MCPServer) handleCreateCampaign(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	brand, err := request.RequireString("brand")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid brand: %v", err)), nil
	}
	audience, err := request.RequireString("target_audience")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid target_audience: %v", err)), nil
	}
	goal, err := request.RequireString("marketing_goal")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid marketing_goal: %v", err)), nil
	}

	c, err := s.engine.CreateCampaign(ctx, brand, audience, goal)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create campaign: %v", err)), nil
	}
	return jsonResult(c)
}

func (s *MCPServer) handleListCampaigns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.engine.ListCampaigns(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list campaigns: %v", err)), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("No campaigns found"), nil
	}

	var b strings.Builder
	b.WriteString("Campaigns:\n")
	for _, c := range list {
		fmt.Fprintf(&b, "- ID: %s, Brand: %s, Status: %s, Cycle: %d\n", c.ID, c.Brand, c.Status, c.CurrentCycle)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleStartLoop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("campaign_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid campaign_id: %v", err)), nil
	}
	n := int(request.GetFloat("cycle_number", 0))

	c, err := s.engine.StartCampaign(ctx, id, n)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start cycle loop: %v", err)), nil
	}
	if n <= 0 {
		n = c.CurrentCycle
	}
	s.logger.Info("cycle loop started over MCP", zap.String("campaign", c.ID), zap.Int("cycle", n))
	return mcp.NewToolResultText(fmt.Sprintf("Started cycle loop for campaign %s at cycle %d", c.ID, n)), nil
}

func (s *MCPServer) handlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.command("pause", s.loop.Pause)
}

func (s *MCPServer) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.command("resume", s.loop.Resume)
}

func (s *MCPServer) handleStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.command("stop", s.loop.Stop)
}

func (s *MCPServer) command(name string, fn func() error) (*mcp.CallToolResult, error) {
	if err := fn(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s cycle loop: %v", name, err)), nil
	}
	st := s.loop.Status()
	return mcp.NewToolResultText(fmt.Sprintf("Cycle loop %s: state %s", name, st.State)), nil
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.loop.Status())
}

func (s *MCPServer) handleListCycles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("campaign_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid campaign_id: %v", err)), nil
	}
	cycles, err := s.engine.Cycles(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list cycles: %v", err)), nil
	}
	return jsonResult(cycles)
}
