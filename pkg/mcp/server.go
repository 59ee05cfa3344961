package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-downloader/pkg/config"
	"github.com/Sriram-PR/site-downloader/pkg/log"
	"github.com/Sriram-PR/site-downloader/pkg/metrics"
)

const (
	serverName    = "site-downloader"
	serverVersion = "1.0.0"
)

// Transports understood by Run
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  config.AppConfig
	ConfigPath string
	Transport  string // "stdio" (default) or "sse"
	Port       int
	Logger     *logrus.Logger
	Metrics    *metrics.Collector // Optional
}

// Server wraps the MCP server with the download tools
type Server struct {
	mcpServer  *server.MCPServer
	sseServer  *server.SSEServer
	cfg        ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.AppConfig.OutputDir == "" {
		return nil, errors.New("AppConfig.OutputDir is required")
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetOutput(os.Stderr)
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}

	s.registerTools()

	return s, nil
}

// downloadOptions are shared by the synchronous and background download tools
func downloadOptions(urlDescription string) []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description(urlDescription),
		),
		mcp.WithString("site",
			mcp.Description("Optional site preset from the config file whose settings apply to this download"),
		),
		mcp.WithBoolean("include_assets",
			mcp.Description("Download and localize images, stylesheets, scripts and fonts (default: true)"),
		),
		mcp.WithBoolean("include_media",
			mcp.Description("Include images and media when downloading assets (default: true)"),
		),
		mcp.WithString("mode",
			mcp.Description("'page' downloads one page with its assets, 'site' also follows same-origin links"),
			mcp.Enum("page", "site"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Maximum link depth followed in site mode (default: 2)"),
		),
		mcp.WithNumber("concurrent_downloads",
			mcp.Description("Maximum simultaneous downloads (default: 5)"),
		),
	}
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	const downloadURL = "The URL of the page to download, including the http:// or https:// scheme"

	// download-website - Download a page or site and wait for the result
	downloadTool := mcp.NewTool("download-website",
		append([]mcp.ToolOption{
			mcp.WithDescription("Download a web page (or a whole site in site mode) with its assets into the output directory, rewriting references so it works offline"),
		}, downloadOptions(downloadURL)...)...,
	)
	s.mcpServer.AddTool(downloadTool, s.handleDownload)

	// download - Alias of download-website
	aliasTool := mcp.NewTool("download",
		append([]mcp.ToolOption{
			mcp.WithDescription("Alias of download-website"),
		}, downloadOptions(downloadURL)...)...,
	)
	s.mcpServer.AddTool(aliasTool, s.handleDownload)

	// start_download - Background download
	startTool := mcp.NewTool("start_download",
		append([]mcp.ToolOption{
			mcp.WithDescription("Start a download in the background. Returns immediately with a job ID."),
		}, downloadOptions(downloadURL)...)...,
	)
	s.mcpServer.AddTool(startTool, s.handleStartDownload)

	// get_job_status - Check status of a download job
	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of a background download job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_download"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	// list_jobs - All jobs of this server
	listJobsTool := mcp.NewTool("list_jobs",
		mcp.WithDescription("List all background download jobs, newest first"),
	)
	s.mcpServer.AddTool(listJobsTool, s.handleListJobs)

	// cancel_job - Stop a background download
	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a running background download job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_download"),
		),
	)
	s.mcpServer.AddTool(cancelJobTool, s.handleCancelJob)

	// list_sites - Configured presets
	listSitesTool := mcp.NewTool("list_sites",
		mcp.WithDescription("List all site presets from the config file"),
	)
	s.mcpServer.AddTool(listSitesTool, s.handleListSites)

	s.log.Infof("Registered %d MCP tools", 7)
}

// Run starts the MCP server with the configured transport and blocks until ctx is done
// or the transport stops.
func (s *Server) Run(ctx context.Context) error {
	switch s.cfg.Transport {
	case TransportStdio:
		s.log.Info("Starting MCP server with stdio transport")
		stdio := server.NewStdioServer(s.mcpServer)
		errLog, closer := log.StdLogger(s.log, logrus.ErrorLevel)
		defer closer.Close()
		stdio.SetErrorLogger(errLog)
		err := stdio.Listen(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case TransportSSE:
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		s.sseServer = server.NewSSEServer(s.mcpServer)

		errCh := make(chan error, 1)
		go func() { errCh <- s.sseServer.Start(addr) }()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			return s.Shutdown(context.Background())
		}
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	// Cancel any running jobs
	s.jobManager.CancelAll()
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutting down SSE server: %w", err)
		}
	}
	return nil
}
