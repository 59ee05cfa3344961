package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/site-downloader/pkg/mcp"
	"github.com/Sriram-PR/site-downloader/pkg/metrics"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an MCP server exposing the download tools",
		Long: `Start an MCP (Model Context Protocol) server for AI tool integration.

Examples:
  # Start with stdio transport (for desktop MCP clients)
  site-downloader serve

  # Start with SSE transport on port 8080 and expose Prometheus metrics
  site-downloader serve --transport sse --port 8080 --metrics-addr :9090

Available MCP Tools:
  download-website  Download a page or site and return the result
  download          Alias of download-website
  start_download    Start a download in the background
  get_job_status    Status and result of a background download
  list_jobs         All background downloads, newest first
  cancel_job        Cancel a background download
  list_sites        Site presets from the config file`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().String("transport", mcp.TransportStdio, "Transport type (stdio, sse)")
	cmd.Flags().Int("port", 8080, "HTTP port (for sse transport)")
	cmd.Flags().String("metrics-addr", "", "Address for the Prometheus /metrics endpoint (empty to disable)")

	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	appCfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	transport, _ := cmd.Flags().GetString("transport")
	port, _ := cmd.Flags().GetInt("port")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	configPath, _ := cmd.Flags().GetString("config")

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	collector := metrics.New(true)
	if metricsAddr != "" {
		metricsServer := startMetricsServer(metricsAddr, collector, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	srv, err := mcp.NewServer(mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     logger,
		Metrics:    collector,
	})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Shutdown(context.Background()) }()

	logger.Infof("MCP server ready, saving downloads under %s", appCfg.OutputDir)
	return srv.Run(ctx)
}

// startMetricsServer serves the collector on addr until shut down
func startMetricsServer(addr string, collector *metrics.Collector, logger *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("PANIC in metrics server: %v", r)
			}
		}()
		logger.Infof("Serving Prometheus metrics on http://%s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server failed on %s: %v", addr, err)
		}
	}()
	return server
}
