package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-tender-kb/internal/auth"
	"github.com/sha1n/mcp-tender-kb/internal/config"
)

// StartSSEServer starts the SSE server with authentication
func StartSSEServer(s *Server, settings *config.Settings) error {
	srv, err := NewSSEServer(s, settings)
	if err != nil {
		return err
	}

	slog.Info("Server listening (HTTP)", "addr", srv.Addr, "auth_type", settings.Auth.Type)
	return srv.ListenAndServe()
}

// NewSSEServer creates the HTTP server: the SSE endpoint, a health check and
// the metrics endpoint behind recovery, tracing, rate limiting and auth.
func NewSSEServer(s *Server, settings *config.Settings) (*http.Server, error) {
	// Factory function returns the server instance for each request
	sseHandler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return s.MCP
	}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/sse", sseHandler)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}

	authMiddleware, err := auth.NewMiddleware(settings.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}

	logger := slog.Default()
	handler := Chain(mux,
		Recover(logger),
		Logger(logger),
		OTel(ServerName),
		RateLimit(settings.RateLimit),
		authMiddleware,
	)
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)

	return &http.Server{
		Addr:    addr,
		Handler: handler,
	}, nil
}
