// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package log provides the logging facade used throughout the core: a
// small interface backed by seelog, so components depend on Component
// rather than a concrete logger.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	seelog "github.com/cihub/seelog"
)

// Component is the logging facade every core subsystem takes as a
// constructor argument.
type Component interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Flush()
}

type seelogComponent struct {
	mu     sync.Mutex
	logger seelog.LoggerInterface
}

// New builds a Component writing to w at the given minimum level
// ("trace", "debug", "info", "warn", "error", "critical", "off").
func New(w io.Writer, level string) (Component, error) {
	if w == nil {
		w = os.Stderr
	}
	minLvl, ok := seelog.LogLevelFromString(level)
	if !ok {
		minLvl = seelog.InfoLvl
	}
	logger, err := seelog.LoggerFromWriterWithMinLevel(w, minLvl)
	if err != nil {
		return nil, fmt.Errorf("unable to build logger: %w", err)
	}
	return &seelogComponent{logger: logger}, nil
}

func (s *seelogComponent) Debugf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.logger.Debugf(format, args...)
}

func (s *seelogComponent) Infof(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.logger.Infof(format, args...)
}

func (s *seelogComponent) Warnf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.logger.Warnf(format, args...)
}

func (s *seelogComponent) Errorf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.logger.Errorf(format, args...)
}

func (s *seelogComponent) Debug(args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Debug(args...)
}

func (s *seelogComponent) Info(args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info(args...)
}

func (s *seelogComponent) Warn(args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.logger.Warn(args...)
}

func (s *seelogComponent) Error(args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.logger.Error(args...)
}

func (s *seelogComponent) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Flush()
}
