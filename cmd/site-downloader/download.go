package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/site-downloader/pkg/metrics"
	"github.com/Sriram-PR/site-downloader/pkg/models"
	"github.com/Sriram-PR/site-downloader/pkg/orchestrate"
	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// treeFilename is written by --save-tree inside each site directory
const treeFilename = "directory_structure.txt"

// NewDownloadCmd creates the download command.
func NewDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download [url...]",
		Short: "Download one or more pages or sites",
		Long: `Download saves each URL into its own directory under --directory and prints
the results as JSON.

Examples:
  # Save a single page with its assets
  site-downloader download https://example.com/

  # Mirror a site two links deep, five downloads at a time
  site-downloader download --mode site --max-depth 2 https://example.com/docs/

  # Run site presets from the config file and show what was saved
  site-downloader download --site docs --site blog --tree`,
		Args: cobra.ArbitraryArgs,
		RunE: runDownloadCmd,
	}

	cmd.Flags().StringP("mode", "m", "", "Crawl mode: page or site (default from config)")
	cmd.Flags().Int("max-depth", 0, "Maximum link depth in site mode (default from config)")
	cmd.Flags().IntP("concurrency", "j", 0, "Maximum simultaneous downloads per site (default from config)")
	cmd.Flags().Bool("no-assets", false, "Save pages only, without images, stylesheets, scripts and fonts")
	cmd.Flags().Bool("no-media", false, "Skip images and media when downloading assets")
	cmd.Flags().StringSliceP("site", "s", nil, "Site preset key from the config file (repeatable)")
	cmd.Flags().Bool("tree", false, "Print the directory tree of every saved site")
	cmd.Flags().Bool("save-tree", false, "Write the directory tree into "+treeFilename+" inside every saved site")

	return cmd
}

func runDownloadCmd(cmd *cobra.Command, args []string) error {
	siteKeys, _ := cmd.Flags().GetStringSlice("site")
	if len(args) == 0 && len(siteKeys) == 0 {
		return errors.New("at least one URL or --site is required")
	}

	appCfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	orch := orchestrate.NewOrchestrator(appCfg, logger.WithField("command", "download"), metrics.New(false))
	jobs := orch.JobsForURLs(args)
	siteJobs, err := orch.JobsForSites(siteKeys)
	if err != nil {
		return err
	}
	jobs = append(jobs, siteJobs...)

	for i := range jobs {
		if err := applyDownloadFlags(cmd, &jobs[i].Request); err != nil {
			return err
		}
	}

	results := orch.Run(ctx, jobs)

	out := cmd.OutOrStdout()
	crawlResults := make([]models.CrawlResult, 0, len(results))
	failed := 0
	for _, r := range results {
		crawlResults = append(crawlResults, r.Result)
		if !r.Result.Succeeded() {
			failed++
		}
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(crawlResults); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	printTree, _ := cmd.Flags().GetBool("tree")
	saveTree, _ := cmd.Flags().GetBool("save-tree")
	treeLog := logger.WithField("command", "download")
	for _, r := range results {
		if !r.Result.Succeeded() {
			continue
		}
		if saveTree {
			treePath := filepath.Join(r.Result.SavedTo, treeFilename)
			if err := utils.SaveTree(r.Result.SavedTo, treePath, treeLog); err != nil {
				logger.Warnf("Could not save tree for %s: %v", r.Result.SavedTo, err)
			} else {
				logger.Infof("Directory tree written to %s", treePath)
			}
		}
		if printTree {
			fmt.Fprintln(out)
			if _, err := utils.WriteTree(out, r.Result.SavedTo, treeLog); err != nil {
				logger.Warnf("Could not print tree for %s: %v", r.Result.SavedTo, err)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(results))
	}
	return nil
}

// applyDownloadFlags overrides request settings with flags the user actually set
func applyDownloadFlags(cmd *cobra.Command, req *models.CrawlRequest) error {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		mode, _ := flags.GetString("mode")
		req.Mode = models.CrawlMode(mode)
		if !req.Mode.IsValid() {
			return fmt.Errorf("invalid --mode %q (supported: page, site)", mode)
		}
	}
	if flags.Changed("max-depth") {
		req.MaxDepth, _ = flags.GetInt("max-depth")
	}
	if flags.Changed("concurrency") {
		req.ConcurrentDownloads, _ = flags.GetInt("concurrency")
	}
	if noAssets, _ := flags.GetBool("no-assets"); noAssets {
		req.IncludeAssets = false
	}
	if noMedia, _ := flags.GetBool("no-media"); noMedia {
		req.IncludeMedia = false
	}
	return nil
}
