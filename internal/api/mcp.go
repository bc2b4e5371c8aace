package api

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Conversations Conversations
}

// NewMCPServer exposes the stateless generation paths as MCP tools, so
// trusted local agents can use DevMentor the way internal services use the
// service-key endpoint.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"devmentor",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("DevMentor AI coding mentor: ask questions, review code, generate learning roadmaps."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_mentor",
			mcp.WithDescription("Ask the coding mentor a one-off question. No session state is kept."),
			mcp.WithString("prompt", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAskMentor(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze_code",
			mcp.WithDescription("Run a short structured review of a piece of source code."),
			mcp.WithString("code", mcp.Description("The source code to review"), mcp.Required()),
		),
		mcpAnalyzeCode(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_roadmap",
			mcp.WithDescription("Generate a concise learning roadmap for a career or skill goal."),
			mcp.WithString("goal", mcp.Description("The goal, e.g. \"backend engineer\""), mcp.Required()),
		),
		mcpGenerateRoadmap(deps),
	)

	return s
}

func mcpAskMentor(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}

		reply, err := deps.Conversations.DirectAsk(ctx, prompt)
		if err != nil {
			return mcpError("ask failed: " + err.Error()), nil
		}
		return mcpText(reply), nil
	}
}

func mcpAnalyzeCode(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := req.RequireString("code")
		if err != nil {
			return mcpError("code is required"), nil
		}

		reply, err := deps.Conversations.Analyze(ctx, code)
		if err != nil {
			return mcpError("analysis failed: " + err.Error()), nil
		}
		return mcpText(reply), nil
	}
}

func mcpGenerateRoadmap(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		goal, err := req.RequireString("goal")
		if err != nil {
			return mcpError("goal is required"), nil
		}

		reply, err := deps.Conversations.Roadmap(ctx, goal)
		if err != nil {
			return mcpError("roadmap generation failed: " + err.Error()), nil
		}
		return mcpText(reply), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
