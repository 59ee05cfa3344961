// Package log builds the logrus loggers shared by the CLI, the MCP server and the crawler.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options selects level, format and destination of a logger
type Options struct {
	Level  string    // logrus level name, "" means info
	Format string    // "text" (default) or "json"
	Output io.Writer // nil means stderr
}

// New creates a configured logger. An unknown level or format is an error.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr // stdout is reserved for MCP protocol frames
	}
	log.SetOutput(out)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q (supported: text, json)", opts.Format)
	}

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	log.SetLevel(level)
	return log, nil
}

// Discard returns an entry that drops everything
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// StdLogger bridges a standard library *log.Logger (as expected by net/http and the MCP
// stdio transport) onto entry at the given level. Close the returned writer when done.
func StdLogger(entry *logrus.Entry, level logrus.Level) (*stdlog.Logger, io.Closer) {
	w := entry.WriterLevel(level)
	return stdlog.New(w, "", 0), w
}
