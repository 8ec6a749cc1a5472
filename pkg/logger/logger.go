// Package logger wraps logrus with the level/format/output plumbing the
// calculation engine's entry point configures at startup.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config selects the log level, format, and output destination.
type Config struct {
	Level      string
	Format     string
	Output     string
	FilePrefix string
}

// Logger wraps a configured logrus.Logger.
type Logger struct {
	*logrus.Logger
}

// New builds a Logger from cfg, falling back to info/text/stdout for
// unrecognised values.
func New(cfg Config) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	log.SetOutput(resolveOutput(log, cfg))

	return &Logger{Logger: log}
}

// resolveOutput returns stdout unless file output is requested and the
// log file can be opened, in which case it tees to stdout and the file.
func resolveOutput(log *logrus.Logger, cfg Config) io.Writer {
	if !strings.EqualFold(cfg.Output, "file") {
		return os.Stdout
	}

	prefix := cfg.FilePrefix
	if prefix == "" {
		prefix = "calcengine"
	}
	if err := os.MkdirAll("logs", 0o755); err != nil {
		log.WithError(err).Error("failed to create logs directory")
		return os.Stdout
	}
	file, err := os.OpenFile(filepath.Join("logs", prefix+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.WithError(err).Error("failed to open log file")
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, file)
}
