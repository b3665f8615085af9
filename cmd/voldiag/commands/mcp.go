package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/moolen/voldiag/internal/lifecycle"
	"github.com/moolen/voldiag/internal/logging"
	"github.com/moolen/voldiag/internal/mcp"
)

var (
	httpAddr        string
	transportType   string
	mcpEndpointPath string
	metricsAddr     string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge graph tools over MCP",
	Long: `Load the collector output and start the Model Context Protocol (MCP)
server that exposes the knowledge graph queries as kg_* tools to the
investigation agent.

Supports two transport modes:
  - stdio: Standard input/output mode (default, for subprocess-based MCP clients)
  - http: HTTP server mode with /health and /metrics endpoints`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&transportType, "transport", "stdio", "Transport type: stdio or http")
	mcpCmd.Flags().StringVar(&httpAddr, "http-addr", ":8082", "HTTP server address (host:port)")
	mcpCmd.Flags().StringVar(&mcpEndpointPath, "mcp-endpoint", "/mcp", "HTTP endpoint path for MCP requests")
	mcpCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.address)")
}

func validateTransport(transport string) error {
	switch transport {
	case "stdio", "http":
		return nil
	}
	return fmt.Errorf("invalid transport type: %s (must be 'stdio' or 'http')", transport)
}

// runMCP returns errors instead of exiting so the deferred trace flush and
// component shutdown run on every path.
func runMCP(cmd *cobra.Command, args []string) error {
	if err := validateTransport(transportType); err != nil {
		return err
	}
	if transportType == "stdio" {
		// stdout carries the protocol.
		logging.SetOutput(os.Stderr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, inputFlags)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	defer rt.Close(context.Background())

	logger := logging.GetLogger("mcp")
	srv := mcp.NewServer(rt.session, Version)
	logger.Info("Starting voldiag MCP server (transport: %s, session: %s)", transportType, rt.session.ID())

	manager := lifecycle.NewManager()
	defer stopComponents(manager, logger)

	if transportType == "stdio" {
		addr := metricsAddr
		if addr == "" && rt.cfg.Metrics.Enabled {
			addr = rt.cfg.Metrics.Address
		}
		if addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metricsHandler(rt.registry))
			if err := manager.Register(lifecycle.NewHTTPServer("metrics", addr, mux)); err != nil {
				return err
			}
		}
		if err := manager.Start(ctx); err != nil {
			return err
		}
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("MCP stdio server error: %w", err)
		}
		return nil
	}

	endpointPath := normalizeEndpoint(mcpEndpointPath)
	httpSrv := lifecycle.NewHTTPServer("mcp-http", httpAddr, newHTTPMux(srv.MCPServer(), endpointPath, rt.registry))
	if err := manager.Register(httpSrv); err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	logger.Info("MCP endpoint: %s", endpointPath)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down HTTP server...")
		return nil
	case err := <-httpSrv.Err():
		return fmt.Errorf("MCP HTTP server error: %w", err)
	}
}

func stopComponents(manager *lifecycle.Manager, logger *logging.Logger) {
	if err := manager.Stop(context.Background()); err != nil {
		logger.Warn("Shutdown error: %v", err)
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func normalizeEndpoint(path string) string {
	if path == "" {
		return "/mcp"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

// newHTTPMux builds the mux for HTTP mode: MCP on the endpoint path plus
// health and metrics.
func newHTTPMux(mcpServer *server.MCPServer, endpointPath string, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metricsHandler(reg))

	streamable := server.NewStreamableHTTPServer(
		mcpServer,
		server.WithEndpointPath(endpointPath),
		server.WithStateLess(true),
	)
	mux.Handle(endpointPath, streamable)
	return mux
}
