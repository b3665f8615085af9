// Package mcp exposes a diagnostic session to the investigation agent as
// MCP tools. Tool names double as the operation names used in
// investigation plan steps.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/moolen/voldiag/internal/diagnosis"
	"github.com/moolen/voldiag/internal/logging"
)

// Tool is a tool implementation that takes raw JSON arguments.
type Tool interface {
	Execute(ctx context.Context, input json.RawMessage) (interface{}, error)
}

// Server wraps the mcp-go server with the knowledge graph tools.
type Server struct {
	mcpServer *server.MCPServer
	session   *diagnosis.Session
	tools     map[string]Tool
	version   string
	logger    *logging.Logger
}

// NewServer creates an MCP server answering from session.
func NewServer(session *diagnosis.Session, version string) *Server {
	mcpServer := server.NewMCPServer(
		"voldiag",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		session:   session,
		tools:     make(map[string]Tool),
		version:   version,
		logger:    logging.GetLogger("mcp"),
	}
	s.registerTools()
	s.registerPrompts()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ToolNames lists the registered tools.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for _, d := range toolDefinitions {
		if _, ok := s.tools[d.name]; ok {
			names = append(names, d.name)
		}
	}
	return names
}

// ServeStdio serves the tools on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	s.logger.Info("serving %d tools over stdio (session %s)", len(s.tools), s.session.ID())
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	for _, d := range toolDefinitions {
		s.registerTool(d.name, d.description, d.build(s.session), d.schema)
	}
}

func (s *Server) registerTool(name, description string, tool Tool, inputSchema map[string]interface{}) {
	s.tools[name] = tool

	schemaJSON, err := json.Marshal(inputSchema)
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal schema for tool %s: %v", name, err))
	}

	mcpTool := mcp.NewToolWithRawSchema(name, description, schemaJSON)
	s.mcpServer.AddTool(mcpTool, s.createToolHandler(name, tool))
}

// createToolHandler adapts a Tool to mcp-go. Query failures that carry an
// ErrorPayload are returned to the agent as a regular JSON result so it
// can act on the message; other failures become tool errors.
func (s *Server) createToolHandler(name string, tool Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			var payload *diagnosis.ErrorPayload
			if errors.As(err, &payload) {
				result = payload
			} else {
				s.logger.Warn("tool %s failed: %v", name, err)
				return mcp.NewToolResultError(fmt.Sprintf("Tool execution failed: %v", err)), nil
			}
		}

		if text, ok := result.(string); ok {
			return mcp.NewToolResultText(text), nil
		}

		resultJSON, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}

func (s *Server) registerPrompts() {
	prompt := mcp.Prompt{
		Name:        "investigate_volume_failure",
		Description: "Investigate I/O failures on a pod's volume using the knowledge graph",
		Arguments: []mcp.PromptArgument{
			{Name: "pod_name", Description: "Name of the failing pod", Required: true},
			{Name: "namespace", Description: "Namespace of the pod", Required: true},
			{Name: "volume_path", Description: "Optional mount path of the failing volume", Required: false},
		},
	}

	s.mcpServer.AddPrompt(prompt, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		pod := request.Params.Arguments["pod_name"]
		namespace := request.Params.Arguments["namespace"]
		volumePath := request.Params.Arguments["volume_path"]

		text := fmt.Sprintf("Pod %s/%s reports I/O errors on %s. Execute the steps of the plan below in order "+
			"using the kg_* tools, and switch to the fallback steps when a trigger applies.\n\n%s",
			namespace, pod, volumePath, s.session.GeneratePlan(ctx, pod, namespace, volumePath))

		return &mcp.GetPromptResult{
			Description: "Volume I/O failure investigation",
			Messages: []mcp.PromptMessage{
				{
					Role: mcp.RoleUser,
					Content: mcp.TextContent{
						Type: "text",
						Text: text,
					},
				},
			},
		}, nil
	})
}
