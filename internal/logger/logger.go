// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

// Package logger provides the shared logrus logger used by every tool in this
// repo, plus the flag plumbing to configure it from the command line.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

const (
	ColorFlag         = "log-color"
	ColorFlagHelp     = "Color setting for log output."
	ColorsPlaceholder = "(always|auto|never)"

	FileFlag     = "log-file"
	FileFlagHelp = "Path of file to log to, in addition to stderr."

	LevelsFlag        = "log-level"
	LevelsHelp        = "Minimum log level to output."
	LevelsPlaceholder = "(panic|fatal|error|warn|info|debug|trace)"

	ColorAlways = "always"
	ColorAuto   = "auto"
	ColorNever  = "never"

	defaultLogLevel = logrus.InfoLevel
)

// Log is the shared logger instance. Init (or InitBestEffort) must be called
// before use; package main does this immediately after flag parsing.
var Log *logrus.Logger

type LogFlags struct {
	LogColor *string
	LogFile  *string
	LogLevel *string
}

func Levels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}
	return levels
}

func Colors() []string {
	return []string{ColorAlways, ColorAuto, ColorNever}
}

// Init configures the shared logger from the provided flags.
func Init(flags *LogFlags) error {
	Log = logrus.New()
	Log.SetOutput(os.Stderr)
	Log.SetLevel(defaultLogLevel)

	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	}

	if flags != nil && flags.LogColor != nil && *flags.LogColor != "" {
		switch *flags.LogColor {
		case ColorAlways:
			formatter.ForceColors = true
			color.NoColor = false
		case ColorNever:
			formatter.DisableColors = true
			color.NoColor = true
		case ColorAuto:
			// logrus auto-detects a tty by default.
		default:
			return fmt.Errorf("unknown %s value (%s)", ColorFlag, *flags.LogColor)
		}
	}

	Log.SetFormatter(formatter)

	if flags != nil && flags.LogLevel != nil && *flags.LogLevel != "" {
		level, err := logrus.ParseLevel(strings.ToLower(*flags.LogLevel))
		if err != nil {
			return fmt.Errorf("unknown %s value (%s):\n%w", LevelsFlag, *flags.LogLevel, err)
		}
		Log.SetLevel(level)
	}

	if flags != nil && flags.LogFile != nil && *flags.LogFile != "" {
		logFile, err := os.OpenFile(*flags.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file (%s):\n%w", *flags.LogFile, err)
		}
		Log.SetOutput(io.MultiWriter(os.Stderr, logFile))
	}

	return nil
}

// InitBestEffort initializes the logger and falls back to the default
// configuration if the flags are unusable, so logging is always available.
func InitBestEffort(flags *LogFlags) {
	err := Init(flags)
	if err != nil {
		Log = logrus.New()
		Log.SetOutput(os.Stderr)
		Log.SetLevel(defaultLogLevel)
		Log.Warnf("Failed to fully configure logger, using defaults: %v", err)
	}
}

func init() {
	// Ensure Log is never nil, even in tests that skip Init.
	Log = logrus.New()
	Log.SetOutput(os.Stderr)
	Log.SetLevel(defaultLogLevel)
}
