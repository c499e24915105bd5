// Package mcp exposes campaign and cycle-loop control as MCP tools over stdio.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/forzax/cycleloop/pkg/control"
	"github.com/forzax/cycleloop/pkg/types"
)

// Engine is the campaign side of the app the tools call into.
type Engine interface {
	CreateCampaign(ctx context.Context, brand, audience, goal string) (types.Campaign, error)
	ListCampaigns(ctx context.Context) ([]types.Campaign, error)
	StartCampaign(ctx context.Context, id string, n int) (types.Campaign, error)
	Cycles(ctx context.Context, campaignID string) ([]*types.Cycle, error)
}

// MCPServer wraps the engine with MCP protocol support
type MCPServer struct {
	engine    Engine
	loop      control.Loop
	logger    *zap.Logger
	mcpServer *server.MCPServer
}

// NewMCPServer creates an MCP server exposing campaign and loop tools.
func NewMCPServer(engine Engine, loop control.Loop, version string, logger *zap.Logger) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	mcpServer := server.NewMCPServer(
		"cycleloop",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &MCPServer{
		engine:    engine,
		loop:      loop,
		logger:    logger.Named("mcp"),
		mcpServer: mcpServer,
	}
	s.registerTools()
	return s
}

func (s *MCPServer) registerTools() {
	createCampaign := mcp.NewTool("create_campaign",
		mcp.WithDescription("Create a campaign the cycle loop can run against"),
		mcp.WithString("brand",
			mcp.Required(),
			mcp.Description("Brand name and short description"),
		),
		mcp.WithString("target_audience",
			mcp.Required(),
			mcp.Description("Who the campaign is aimed at"),
		),
		mcp.WithString("marketing_goal",
			mcp.Required(),
			mcp.Description("What the campaign should achieve"),
		),
	)
	s.mcpServer.AddTool(createCampaign, s.handleCreateCampaign)

	listCampaigns := mcp.NewTool("list_campaigns",
		mcp.WithDescription("List stored campaigns, newest first"),
	)
	s.mcpServer.AddTool(listCampaigns, s.handleListCampaigns)

	startLoop := mcp.NewTool("start_cycle_loop",
		mcp.WithDescription("Start running research, taste, make, test and memories cycles for a campaign"),
		mcp.WithString("campaign_id",
			mcp.Required(),
			mcp.Description("ID of the campaign to run"),
		),
		mcp.WithNumber("cycle_number",
			mcp.Description("Cycle to start at; defaults to the campaign's current cycle"),
			mcp.Min(0),
		),
	)
	s.mcpServer.AddTool(startLoop, s.handleStartLoop)

	s.mcpServer.AddTool(mcp.NewTool("pause_cycle_loop",
		mcp.WithDescription("Pause the loop; the interrupted stage restarts on resume"),
	), s.handlePause)
	s.mcpServer.AddTool(mcp.NewTool("resume_cycle_loop",
		mcp.WithDescription("Resume a paused loop"),
	), s.handleResume)
	s.mcpServer.AddTool(mcp.NewTool("stop_cycle_loop",
		mcp.WithDescription("Stop the loop without completing the current cycle"),
	), s.handleStop)

	status := mcp.NewTool("cycle_loop_status",
		mcp.WithDescription("Get the loop state and the current cycle with stage outputs"),
	)
	s.mcpServer.AddTool(status, s.handleStatus)

	listCycles := mcp.NewTool("list_cycles",
		mcp.WithDescription("List a campaign's cycles ordered by number"),
		mcp.WithString("campaign_id", mcp.Required()),
	)
	s.mcpServer.AddTool(listCycles, s.handleListCycles)
}

// Start serves MCP over stdio until stdin closes.
func (s *MCPServer) Start(ctx context.Context) error {
	s.logger.Info("starting MCP server")
	return server.ServeStdio(s.mcpServer)
}
