package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/config"
	mcputil "github.com/sha1n/mcp-tender-kb/internal/mcp"
	"github.com/spf13/pflag"
)

// Server is the MCP server together with the resources it depends on.
type Server struct {
	MCP *mcp.Server
	// Metrics serves the Prometheus registry; nil leaves /metrics unmounted.
	Metrics http.Handler
	// Cleanup releases the server's resources; may be nil.
	Cleanup func()
}

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(*Server, *config.Settings) error
	CreateServer      func(*config.Settings, string) (*Server, error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
	}
}

// ConfigureLogging installs the default stderr logger at the configured level.
func ConfigureLogging(level string) {
	l, err := config.ParseLogLevel(level)
	if err != nil {
		l = slog.LevelInfo
	}
	// Always use stderr; stdout carries the stdio transport.
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(handler))
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	// Load settings
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ConfigureLogging(settings.LogLevel)

	slog.Info("Starting tender-kb server", "version", version)
	config.Log(settings)

	server, err := params.CreateServer(settings, version)
	if err != nil {
		return err
	}
	if server != nil && server.Cleanup != nil {
		defer server.Cleanup()
	}

	// Start server
	if settings.Transport == "stdio" {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return server.MCP.Run(ctx, transport)
	} else {
		slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
		return params.StartSSEServer(server, settings)
	}
}

// CreateMCPServer wires the service stack and registers its tools.
func CreateMCPServer(settings *config.Settings, version string) (*Server, error) {
	stack, err := NewStack(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := stack.ConnectDispatcher(settings.Jobs); err != nil {
		stack.Close()
		return nil, err
	}

	return &Server{
		MCP:     mcputil.CreateServer(stack.ServerConfig(version, settings)),
		Metrics: stack.Metrics.Handler(),
		Cleanup: stack.Close,
	}, nil
}
