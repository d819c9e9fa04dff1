// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package logging configures the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level    string    // logrus level name; defaults to "info".
	File     string    // If set, also log to this file with rotation.
	NoColors bool      //
	Output   io.Writer // Defaults to os.Stderr.
}

// New returns a logger and a closer that must be called at shutdown to
// flush the log file, if any.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(opts.Level); err != nil {
			return nil, nil, fmt.Errorf("logging: %w", err)
		}
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColors,
		TimestampFormat: "15:04:05.000",
		HideKeys:        false,
	})
	var c io.Closer = nopCloser{}
	if opts.File != "" {
		f := &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		}
		out = io.MultiWriter(out, f)
		c = f
	}
	l.SetOutput(out)
	return l, c, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
