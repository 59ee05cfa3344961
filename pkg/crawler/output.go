package crawler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/site-downloader/pkg/config"
	"github.com/Sriram-PR/site-downloader/pkg/models"
	"github.com/Sriram-PR/site-downloader/pkg/storage"
)

// OutputManager collects what a crawl saved and writes the side files describing it:
// the TSV url→file map and the YAML manifest.
type OutputManager struct {
	log    *logrus.Entry
	writer storage.Writer

	mappingEnabled  bool
	mappingFilename string
	metadataEnabled bool
	metadataFile    string

	filesMu sync.Mutex
	files   map[string]string // URL -> relative path of every file written

	metadataMutex         sync.Mutex
	collectedPageMetadata []models.PageMetadata
}

// NewOutputManager resolves the effective output settings for one crawl
func NewOutputManager(log *logrus.Entry, writer storage.Writer, appCfg config.AppConfig, siteCfg config.SiteConfig) *OutputManager {
	return &OutputManager{
		log:             log,
		writer:          writer,
		mappingEnabled:  config.GetEffectiveEnableOutputMapping(siteCfg, appCfg),
		mappingFilename: config.GetEffectiveOutputMappingFilename(siteCfg, appCfg),
		metadataEnabled: config.GetEffectiveEnableMetadataYAML(siteCfg, appCfg),
		metadataFile:    config.GetEffectiveMetadataYAMLFilename(siteCfg, appCfg),
		files:           make(map[string]string),
	}
}

// RecordFile notes that rawURL was saved to relPath
func (om *OutputManager) RecordFile(rawURL, relPath string) {
	om.filesMu.Lock()
	om.files[rawURL] = relPath
	om.filesMu.Unlock()
}

// RecordPage collects the manifest entry of a saved page
func (om *OutputManager) RecordPage(meta models.PageMetadata) {
	om.RecordFile(meta.OriginalURL, meta.LocalFilePath)

	om.metadataMutex.Lock()
	om.collectedPageMetadata = append(om.collectedPageMetadata, meta)
	om.metadataMutex.Unlock()
}

// PagesSaved returns the number of pages recorded so far
func (om *OutputManager) PagesSaved() int {
	om.metadataMutex.Lock()
	defer om.metadataMutex.Unlock()
	return len(om.collectedPageMetadata)
}

// Close writes the enabled side files. Both are attempted; the first error is returned.
func (om *OutputManager) Close(meta models.CrawlMetadata) error {
	errMapping := om.writeMappingFile()
	errYAML := om.writeMetadataYAML(meta)
	if errMapping != nil {
		return errMapping
	}
	return errYAML
}

// writeMappingFile writes one "url\tpath" line per saved file, sorted by URL
func (om *OutputManager) writeMappingFile() error {
	if !om.mappingEnabled {
		om.log.Debug("TSV URL-to-FilePath mapping is disabled.")
		return nil
	}

	om.filesMu.Lock()
	urls := make([]string, 0, len(om.files))
	for u := range om.files {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	var b strings.Builder
	for _, u := range urls {
		fmt.Fprintf(&b, "%s\t%s\n", u, om.files[u])
	}
	om.filesMu.Unlock()

	if err := om.writer.WriteFile(om.mappingFilename, []byte(b.String())); err != nil {
		om.log.Errorf("Failed to write TSV mapping file '%s': %v", om.mappingFilename, err)
		return err
	}
	om.log.Infof("Wrote TSV mapping (%d entries) to %s", len(urls), om.mappingFilename)
	return nil
}

// writeMetadataYAML writes the crawl manifest with every collected page, ordered by depth then URL
func (om *OutputManager) writeMetadataYAML(meta models.CrawlMetadata) error {
	if !om.metadataEnabled {
		om.log.Debug("YAML metadata output is disabled.")
		return nil
	}

	om.metadataMutex.Lock()
	pagesToMarshal := make([]models.PageMetadata, len(om.collectedPageMetadata))
	copy(pagesToMarshal, om.collectedPageMetadata)
	om.metadataMutex.Unlock()

	sort.SliceStable(pagesToMarshal, func(i, j int) bool {
		if pagesToMarshal[i].Depth != pagesToMarshal[j].Depth {
			return pagesToMarshal[i].Depth < pagesToMarshal[j].Depth
		}
		return pagesToMarshal[i].OriginalURL < pagesToMarshal[j].OriginalURL
	})
	meta.Pages = pagesToMarshal
	if meta.CrawlEndTime.IsZero() {
		meta.CrawlEndTime = time.Now()
	}

	yamlData, errMarshal := yaml.Marshal(&meta)
	if errMarshal != nil {
		om.log.Errorf("Failed to marshal crawl metadata to YAML: %v", errMarshal)
		return fmt.Errorf("failed to marshal crawl metadata to YAML for %s: %w", meta.RootURL, errMarshal)
	}

	if err := om.writer.WriteFile(om.metadataFile, yamlData); err != nil {
		om.log.Errorf("Failed to write metadata YAML file '%s': %v", om.metadataFile, err)
		return err
	}

	om.log.Infof("Successfully wrote crawl metadata (%d pages) to %s", len(pagesToMarshal), om.metadataFile)
	return nil
}
