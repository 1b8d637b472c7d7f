// Package mcpserver exposes the hub service to coding agents as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/interfaces"
)

const serverName = "llll"

// Handler runs one tool call. The returned text is shown to the agent; an
// error is shown too, flagged as a failed call.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

type Server struct {
	server *mcp.Server
	svc    interfaces.HubService
	logger *zap.Logger
}

// New creates the server with every hub tool registered.
func New(svc interfaces.HubService, version string, logger *zap.Logger) *Server {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: version,
		}, nil),
		svc:    svc,
		logger: logger,
	}
	for _, t := range s.tools() {
		s.server.AddTool(toSDKTool(t), s.toSDKHandler(t))
	}
	return s
}

// Serve reads requests from in and writes responses to out until ctx is
// cancelled or the transport closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}
	return s.run(ctx, transport)
}

func (s *Server) run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("MCP server started", zap.Int("tools", len(s.tools())))
	return s.server.Run(ctx, transport)
}

func toSDKTool(t Tool) *mcp.Tool {
	return &mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
}

func (s *Server) toSDKHandler(t Tool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}

		s.logger.Debug("Tool called", zap.String("tool", t.Name))
		text, err := t.Handler(ctx, args)
		if err != nil {
			s.logger.Info("Tool failed", zap.String("tool", t.Name), zap.Error(err))
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
