package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
)

const (
	clientName    = "agent-orchestrator"
	clientVersion = "1.0.0"
)

// Session is the part of an MCP client the adapter uses.
type Session interface {
	ListTools(ctx context.Context, request mcpproto.ListToolsRequest) (*mcpproto.ListToolsResult, error)
	CallTool(ctx context.Context, request mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error)
	Close() error
}

type ServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     []string
}

// ParseServers reads a comma-separated list of `name=command arg arg`.
func ParseServers(raw string) ([]ServerConfig, error) {
	var out []ServerConfig
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, cmdline, ok := strings.Cut(item, "=")
		fields := strings.Fields(cmdline)
		if !ok || strings.TrimSpace(name) == "" || len(fields) == 0 {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse mcp servers", fmt.Errorf("bad entry %q", item))
		}
		out = append(out, ServerConfig{
			Name:    strings.TrimSpace(name),
			Command: fields[0],
			Args:    fields[1:],
		})
	}
	return out, nil
}

// Server is one connected MCP server.
type Server struct {
	name    string
	session Session
}

func NewServer(name string, session Session) *Server {
	return &Server{name: name, session: session}
}

// Connect starts the server process over stdio and completes the MCP
// handshake.
func Connect(ctx context.Context, cfg ServerConfig) (*Server, error) {
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %s: %w", cfg.Name, err)
	}

	init := mcpproto.InitializeRequest{}
	init.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcpproto.Implementation{Name: clientName, Version: clientVersion}
	info, err := c.Initialize(ctx, init)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp server %s: %w", cfg.Name, err)
	}
	slog.Info("mcp_server_connected",
		"server", cfg.Name,
		"server_name", info.ServerInfo.Name,
		"server_version", info.ServerInfo.Version,
	)
	return NewServer(cfg.Name, c), nil
}

func (s *Server) Name() string {
	return s.name
}

func (s *Server) Close() error {
	return s.session.Close()
}

// Tools lists the server's tools as executor tools.
func (s *Server) Tools(ctx context.Context) ([]ports.Tool, error) {
	res, err := s.session.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools of %s: %w", s.name, err)
	}
	out := make([]ports.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, &Tool{server: s.name, session: s.session, tool: t})
	}
	return out, nil
}

// Registrar is satisfied by tools.Registry.
type Registrar interface {
	Register(tool ports.Tool) error
}

// ConnectAll connects every configured server and registers its tools.
// Servers that fail to start are logged and skipped; a tool whose name is
// already registered is skipped.
func ConnectAll(ctx context.Context, reg Registrar, configs []ServerConfig) []*Server {
	var servers []*Server
	for _, cfg := range configs {
		srv, err := Connect(ctx, cfg)
		if err != nil {
			slog.Warn("mcp_server_unavailable", "server", cfg.Name, "error", err)
			continue
		}
		n, err := RegisterTools(ctx, reg, srv)
		if err != nil {
			slog.Warn("mcp_tools_unavailable", "server", cfg.Name, "error", err)
			_ = srv.Close()
			continue
		}
		slog.Info("mcp_tools_registered", "server", cfg.Name, "tools", n)
		servers = append(servers, srv)
	}
	return servers
}

func RegisterTools(ctx context.Context, reg Registrar, srv *Server) (int, error) {
	list, err := srv.Tools(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, tool := range list {
		if err := reg.Register(tool); err != nil {
			slog.Warn("mcp_tool_skipped", "server", srv.Name(), "tool", tool.Spec().Name, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// CloseAll closes every server and joins their errors.
func CloseAll(servers []*Server) error {
	var errs []error
	for _, s := range servers {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mcp server %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
