// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package logging sets up the logrus logger shared by the CLI and server.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is a logrus level name. Defaults to "info".
	Level string

	// File, when set, receives a JSON copy of every entry, rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool

	// JSON switches the console output to JSON.
	JSON bool

	// Output defaults to stderr.
	Output io.Writer
}

// New builds a logger writing to stderr, and to a rotating file when
// opts.File is set. A file that cannot be opened is reported on the logger
// itself and does not fail the call.
func New(opts Options) (*logrus.Logger, error) {
	if opts.Level == "" {
		opts.Level = "info"
	}
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)
	if opts.JSON {
		logger.SetFormatter(jsonFormatter())
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	if opts.File != "" {
		hook, err := newFileHook(opts)
		if err != nil {
			logger.WithFields(BaseFields("logger_fallback", "")).WithField("path", opts.File).Warn(err.Error())
		} else {
			logger.AddHook(hook)
		}
	}
	return logger, nil
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
}

// fileHook writes every entry as JSON to a lumberjack rotator.
type fileHook struct {
	w         io.Writer
	formatter logrus.Formatter
}

func newFileHook(opts Options) (*fileHook, error) {
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	return &fileHook{
		w: &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
			Compress:   opts.Compress,
			LocalTime:  true,
		},
		formatter: jsonFormatter(),
	}, nil
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}
