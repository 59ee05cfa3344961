package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/site-downloader/pkg/models"
)

const (
	// AppName is used for the XDG config directory
	AppName = "site-downloader"

	// DefaultOutputDir is where sites are mirrored when nothing else is configured
	DefaultOutputDir = "downloads"

	DefaultUserAgent = "site-downloader/1.0 (+https://github.com/Sriram-PR/site-downloader)"
)

// Default returns the configuration used when no file is present.
// Booleans that default to true are only expressible here; Validate cannot tell unset from false.
func Default() AppConfig {
	return AppConfig{
		OutputDir:             DefaultOutputDir,
		Mode:                  models.ModePage,
		MaxDepth:              models.DefaultMaxDepth,
		ConcurrentDownloads:   models.DefaultConcurrentDownloads,
		IncludeMedia:          true,
		IncludeAssets:         true,
		UserAgent:             DefaultUserAgent,
		RespectRobots:         true,
		MaxRetries:            3,
		EnableOutputMapping:   true,
		OutputMappingFilename: DefaultOutputMappingFilename,
		EnableMetadataYAML:    true,
		MetadataYAMLFilename:  DefaultMetadataYAMLFilename,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/site-downloader/config.yaml
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// LoadConfig reads the YAML file at path over the defaults.
// An empty path tries DefaultConfigPath and silently falls back to defaults if it does not exist.
// The returned config is not yet validated.
func LoadConfig(path string) (AppConfig, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
