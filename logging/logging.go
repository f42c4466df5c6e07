// Copyright 2025 The Gantry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging wires log/slog into the shapes the rest of gantry
// expects: a Config built from functional options, a pluggable handler
// (JSON for production, text or colored console for development), and
// helpers for error reporting with optional stack capture.
//
// Engines never touch a global logger. They receive a *slog.Logger from
// the host and fall back to a no-op logger when none is injected, so a
// library consumer who configures nothing gets silence, not surprise
// output on stdout.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// HandlerType selects the slog handler backing a Config.
type HandlerType string

const (
	// JSONHandler outputs structured JSON logs.
	JSONHandler HandlerType = "json"
	// TextHandler outputs key=value text logs.
	TextHandler HandlerType = "text"
	// ConsoleHandler outputs human-readable colored logs.
	ConsoleHandler HandlerType = "console"
)

// Level is the minimum severity a Config emits.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is the structured logging surface the engines depend on.
// *slog.Logger and *Config both satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// bgCtx is reused across log calls; slog requires a context but none of
// the call sites use it for cancellation.
var bgCtx = context.Background()

// Config holds a configured logger.
//
// Thread-safety: the logger field uses atomic.Pointer for lock-free
// reads; mu serializes reconfiguration (SetLevel).
type Config struct {
	handlerType HandlerType
	output      io.Writer
	level       Level

	serviceName    string
	serviceVersion string
	environment    string

	addSource   bool
	replaceAttr func(groups []string, a slog.Attr) slog.Attr

	customLogger *slog.Logger
	useCustom    bool

	logger atomic.Pointer[slog.Logger]
	mu     sync.Mutex

	registerGlobal bool
}

// Option configures a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		handlerType:    JSONHandler,
		output:         os.Stdout,
		level:          LevelInfo,
		serviceName:    "gantry",
		serviceVersion: "unknown",
		environment:    "development",
	}
}

// New creates a logging configuration.
//
// New does not touch the global slog default; use WithGlobalLogger when
// this instance should become slog's default. Keeping registration
// opt-in lets a host binary that already manages its own global logger
// embed gantry without a fight over slog.SetDefault.
func New(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.initializeHandler(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustNew creates a logging configuration or panics on error.
func MustNew(opts ...Option) *Config {
	cfg, err := New(opts...)
	if err != nil {
		panic("logging initialization failed: " + err.Error())
	}
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.output == nil {
		return errors.New("output writer cannot be nil")
	}
	if c.serviceName == "" {
		return errors.New("service name cannot be empty")
	}
	if c.useCustom && c.customLogger == nil {
		return ErrNilLogger
	}
	return nil
}

func (c *Config) initializeHandler() error {
	if c.useCustom {
		c.logger.Store(c.customLogger)
		if c.registerGlobal {
			slog.SetDefault(c.customLogger)
		}
		return nil
	}

	opts := &slog.HandlerOptions{
		Level:       c.level,
		AddSource:   c.addSource,
		ReplaceAttr: c.buildReplaceAttr(),
	}

	var handler slog.Handler
	switch c.handlerType {
	case JSONHandler:
		handler = slog.NewJSONHandler(c.output, opts)
	case TextHandler:
		handler = slog.NewTextHandler(c.output, opts)
	case ConsoleHandler:
		handler = newConsoleHandler(c.output, opts)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidHandler, c.handlerType)
	}

	logger := slog.New(handler).With(
		"service", c.serviceName,
		"version", c.serviceVersion,
		"env", c.environment,
	)
	c.logger.Store(logger)
	if c.registerGlobal {
		slog.SetDefault(logger)
	}
	return nil
}

// buildReplaceAttr redacts well-known credential attributes before the
// user-supplied replacer runs.
func (c *Config) buildReplaceAttr() func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case "password", "token", "secret", "api_key", "authorization":
			return slog.String(a.Key, "***REDACTED***")
		}
		if c.replaceAttr != nil {
			return c.replaceAttr(groups, a)
		}
		return a
	}
}

// Logger returns the underlying slog.Logger. Safe for concurrent use.
func (c *Config) Logger() *slog.Logger {
	return c.logger.Load()
}

// With returns a logger with additional attributes.
func (c *Config) With(args ...any) *slog.Logger {
	return c.Logger().With(args...)
}

// WithGroup returns a logger with a group name.
func (c *Config) WithGroup(name string) *slog.Logger {
	return c.Logger().WithGroup(name)
}

func (c *Config) log(level slog.Level, msg string, args ...any) {
	logger := c.Logger()
	if !logger.Enabled(bgCtx, level) {
		return
	}
	logger.Log(bgCtx, level, msg, args...)
}

// Debug logs a debug message with structured attributes.
func (c *Config) Debug(msg string, args ...any) {
	c.log(slog.LevelDebug, msg, args...)
}

// Info logs an informational message with structured attributes.
func (c *Config) Info(msg string, args ...any) {
	c.log(slog.LevelInfo, msg, args...)
}

// Warn logs a warning message with structured attributes.
func (c *Config) Warn(msg string, args ...any) {
	c.log(slog.LevelWarn, msg, args...)
}

// Error logs an error message with structured attributes.
func (c *Config) Error(msg string, args ...any) {
	c.log(slog.LevelError, msg, args...)
}

// LogError logs an error with an "error" attribute plus extra context
// fields, keeping the error format uniform across packages.
func (c *Config) LogError(err error, msg string, extra ...any) {
	attrs := make([]any, 0, len(extra)+2)
	attrs = append(attrs, "error", err.Error())
	attrs = append(attrs, extra...)
	c.Error(msg, attrs...)
}

// ErrorWithStack logs an error with an optional stack trace.
//
// Reserve stacks for unexpected conditions (panics, invariant
// violations); expected errors such as validation failures do not need
// the capture cost.
func (c *Config) ErrorWithStack(msg string, err error, includeStack bool, extra ...any) {
	attrs := make([]any, 0, len(extra)+4)
	attrs = append(attrs, "error", err.Error())
	if includeStack {
		attrs = append(attrs, "stack", captureStack(3))
	}
	attrs = append(attrs, extra...)
	c.log(slog.LevelError, msg, attrs...)
}

// captureStack captures a stack trace. skip counts frames to drop:
// 0 includes captureStack itself, 3 is the typical value to start at
// the caller's caller.
func captureStack(skip int) string {
	var buf strings.Builder
	pcs := make([]uintptr, 10)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return buf.String()
}

// SetLevel changes the minimum log level at runtime. Not supported with
// custom loggers, whose level is controlled externally.
func (c *Config) SetLevel(level Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useCustom {
		return ErrCannotChangeLevel
	}

	oldLevel := c.level
	c.level = level
	if err := c.initializeHandler(); err != nil {
		c.level = oldLevel
		return err
	}
	return nil
}

// Level returns the current minimum log level.
func (c *Config) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// ServiceName returns the service name.
func (c *Config) ServiceName() string {
	return c.serviceName
}

// Functional options.

// WithHandlerType sets the logging handler type.
func WithHandlerType(t HandlerType) Option {
	return func(c *Config) { c.handlerType = t }
}

// WithJSONHandler uses JSON structured logging (default).
func WithJSONHandler() Option {
	return WithHandlerType(JSONHandler)
}

// WithTextHandler uses text key=value logging.
func WithTextHandler() Option {
	return WithHandlerType(TextHandler)
}

// WithConsoleHandler uses human-readable console logging.
func WithConsoleHandler() Option {
	return WithHandlerType(ConsoleHandler)
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Config) { c.output = w }
}

// WithLevel sets the minimum log level.
func WithLevel(l Level) Option {
	return func(c *Config) { c.level = l }
}

// WithDebugLevel enables debug logging.
func WithDebugLevel() Option {
	return WithLevel(LevelDebug)
}

// WithServiceName sets the service name attached to every entry.
func WithServiceName(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.serviceName = name
		}
	}
}

// WithServiceVersion sets the service version attached to every entry.
func WithServiceVersion(version string) Option {
	return func(c *Config) {
		if version != "" {
			c.serviceVersion = version
		}
	}
}

// WithEnvironment sets the environment attached to every entry.
func WithEnvironment(env string) Option {
	return func(c *Config) {
		if env != "" {
			c.environment = env
		}
	}
}

// WithSource enables source code location in logs.
func WithSource(enabled bool) Option {
	return func(c *Config) { c.addSource = enabled }
}

// WithReplaceAttr sets a custom attribute replacer. Credential
// redaction still runs first.
func WithReplaceAttr(fn func(groups []string, a slog.Attr) slog.Attr) Option {
	return func(c *Config) { c.replaceAttr = fn }
}

// WithCustomLogger uses a caller-owned slog.Logger instead of building
// a handler. Handler options (type, level, output) are ignored.
func WithCustomLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.customLogger = l
		c.useCustom = true
	}
}

// WithGlobalLogger registers this logger as the global slog default.
func WithGlobalLogger() Option {
	return func(c *Config) { c.registerGlobal = true }
}

// ParseHandlerType maps a configuration string to a HandlerType.
func ParseHandlerType(s string) (HandlerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(JSONHandler):
		return JSONHandler, nil
	case string(TextHandler):
		return TextHandler, nil
	case string(ConsoleHandler):
		return ConsoleHandler, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidHandler, s)
	}
}

// ParseLevel maps a configuration string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}
