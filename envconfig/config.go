package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// LogLevel returns the log level for the application.
// Values are 0 or false INFO (Default), 1 or true DEBUG, 2 TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("QWENRUN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

func Bool(k string) func() bool {
	return func() bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}

			return b
		}

		return false
	}
}

var (
	// NoMmap reads tensor data into memory instead of mapping the model file.
	NoMmap = Bool("QWENRUN_NOMMAP")
	// NoProgress disables the loading spinner and progress bar.
	NoProgress = Bool("QWENRUN_NOPROGRESS")
)

func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}

		return defaultValue
	}
}

var (
	// NumThreads sets the width of the worker pool used inside a forward step.
	NumThreads = Uint("QWENRUN_NUM_THREADS", uint(runtime.GOMAXPROCS(0)))
	// ContextLength caps the context window. Zero keeps the length stored in the model.
	ContextLength = Uint("QWENRUN_CONTEXT_LENGTH", 4096)
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"QWENRUN_DEBUG":          {"QWENRUN_DEBUG", LogLevel(), "Show additional debug information (e.g. QWENRUN_DEBUG=1)"},
		"QWENRUN_NOMMAP":         {"QWENRUN_NOMMAP", NoMmap(), "Read model weights instead of memory mapping the file"},
		"QWENRUN_NOPROGRESS":     {"QWENRUN_NOPROGRESS", NoProgress(), "Do not show load progress"},
		"QWENRUN_NUM_THREADS":    {"QWENRUN_NUM_THREADS", NumThreads(), "Worker pool width for matrix and attention kernels"},
		"QWENRUN_CONTEXT_LENGTH": {"QWENRUN_CONTEXT_LENGTH", ContextLength(), "Maximum context length, 0 uses the model's own (default: 4096)"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Var returns an environment variable stripped of leading and trailing quotes or spaces
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
