package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// TreeStats counts the entries printed by WriteTree
type TreeStats struct {
	Dirs  int
	Files int
}

// WriteTree walks targetDir and writes a text-based directory tree to w, followed by a summary line
func WriteTree(w io.Writer, targetDir string, log *logrus.Entry) (TreeStats, error) {
	var stats TreeStats
	info, err := os.Stat(targetDir)
	if err != nil {
		return stats, fmt.Errorf("%w: stat '%s': %w", ErrFilesystem, targetDir, err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("%w: '%s' is not a directory", ErrFilesystem, targetDir)
	}

	writer := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(writer, "%s/\n", filepath.Base(targetDir)); err != nil {
		return stats, err
	}

	log.Debugf("Initiating recursive walk from: %s", targetDir)
	if err := walkDirRecursive(writer, targetDir, "", &stats, log); err != nil {
		return stats, fmt.Errorf("error generating tree for '%s': %w", targetDir, err)
	}

	if _, err := fmt.Fprintf(writer, "\n%d directories, %d files\n", stats.Dirs, stats.Files); err != nil {
		return stats, err
	}
	return stats, writer.Flush()
}

// SaveTree writes the tree for targetDir into outputFilePath
func SaveTree(targetDir, outputFilePath string, log *logrus.Entry) error {
	file, err := os.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("%w: create '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	_, err = WriteTree(file, targetDir, log)
	return err
}

// walkDirRecursive performs the recursive directory walk and writes entries
func walkDirRecursive(writer io.Writer, dirPath string, currentIndent string, stats *TreeStats, log *logrus.Entry) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		log.Warnf("Failed to read directory '%s': %v", dirPath, err)
		return fmt.Errorf("failed to read directory '%s': %w", dirPath, err)
	}

	// Directories first, then case-insensitive by name
	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	for i, entry := range entries {
		isLast := i == len(entries)-1

		connector := entryPrefix
		if isLast {
			connector = lastEntryPrefix
		}

		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		if _, err := fmt.Fprintf(writer, "%s%s%s\n", currentIndent, connector, name); err != nil {
			return err
		}

		if !entry.IsDir() {
			stats.Files++
			continue
		}
		stats.Dirs++

		nextIndent := currentIndent + verticalLine
		if isLast {
			nextIndent = currentIndent + indentPrefix
		}
		if err := walkDirRecursive(writer, filepath.Join(dirPath, entry.Name()), nextIndent, stats, log); err != nil {
			return err
		}
	}
	return nil
}
