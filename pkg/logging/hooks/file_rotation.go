// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package hooks

import (
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileRotationOption holds the rotation parameters of a log file.
type FileRotationOption struct {
	FileName   string
	MaxSize    int
	MaxBackups int
	Compress   bool
}

type Option func(*FileRotationOption)

// WithMaxSize sets the size in megabytes at which the file is rotated.
// Defaults to 100 MBs.
func WithMaxSize(maxSize int) Option {
	return func(option *FileRotationOption) {
		option.MaxSize = maxSize
	}
}

// WithMaxBackups sets how many rotated files are retained. Zero keeps all of
// them.
func WithMaxBackups(maxBackups int) Option {
	return func(option *FileRotationOption) {
		option.MaxBackups = maxBackups
	}
}

// EnableCompression gzips rotated files.
func EnableCompression() Option {
	return func(option *FileRotationOption) {
		option.Compress = true
	}
}

// NewFileRotationLogHook returns a text handler writing to a size-rotated
// file.
func NewFileRotationLogHook(logLevel slog.Level, fileName string, opts ...Option) slog.Handler {
	options := &FileRotationOption{
		FileName: fileName,
		MaxSize:  100,
	}
	for _, opt := range opts {
		opt(options)
	}

	return slog.NewTextHandler(&lumberjack.Logger{
		Filename:   options.FileName,
		MaxSize:    options.MaxSize,
		MaxBackups: options.MaxBackups,
		Compress:   options.Compress,
	}, &slog.HandlerOptions{
		Level: logLevel,
	})
}
