package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sriram-PR/site-downloader/pkg/config"
	"github.com/Sriram-PR/site-downloader/pkg/log"
)

// shutdownGrace is how long a cancelled run may take before a forced exit
const shutdownGrace = 30 * time.Second

// NewRootCmd creates the root command for site-downloader.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site-downloader",
		Short: "Download web pages and sites for offline browsing",
		Long: `site-downloader saves a web page together with its images, stylesheets, scripts
and fonts, and rewrites every reference so the copy opens offline.

In site mode it also follows same-origin links up to a maximum depth and rewrites
links between the saved pages. The serve command exposes the same operation as
MCP tools over stdio or SSE.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().StringP("directory", "d", config.DefaultOutputDir, "Directory downloaded sites are saved under")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config file (default: "+config.DefaultConfigPath()+")")
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "Log format (text, json)")

	// Add subcommands
	cmd.AddCommand(NewDownloadCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadRuntime loads and validates the configuration and builds the logger.
// Flags given on the command line take precedence over the config file.
func loadRuntime(cmd *cobra.Command) (config.AppConfig, *logrus.Logger, error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")

	appCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return appCfg, nil, err
	}

	if flags.Changed("directory") || appCfg.OutputDir == "" {
		appCfg.OutputDir, _ = flags.GetString("directory")
	}
	if flags.Changed("log-level") {
		appCfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		appCfg.LogFormat, _ = flags.GetString("log-format")
	}

	logger, err := log.New(log.Options{
		Level:  appCfg.LogLevel,
		Format: appCfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return appCfg, nil, err
	}

	warnings, err := appCfg.Validate()
	if err != nil {
		return appCfg, logger, err
	}
	for _, w := range warnings {
		logger.Warn(w)
	}
	return appCfg, logger, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. A second signal, or a
// shutdown that outlasts shutdownGrace, exits the process. Call stop when done.
func signalContext(parent context.Context, logger *logrus.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-done:
			return
		}
		logger.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		// Allow force exit on second signal or timeout
		select {
		case sig = <-sigChan:
			logger.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(shutdownGrace):
			logger.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel()
	}
}
