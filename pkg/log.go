package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Firmware component identifiers.
const (
	ComponentDevice   Component = "device"
	ComponentStack    Component = "stack"
	ComponentHAL      Component = "hal"
	ComponentConfig   Component = "config"
	ComponentEEPROM   Component = "eeprom"
	ComponentFPGA     Component = "fpga"
	ComponentIOBuf    Component = "iobuf"
	ComponentDispatch Component = "dispatch"
	ComponentAlert    Component = "alert"
	ComponentBoot     Component = "boot"
	ComponentFirmware Component = "firmware"
	ComponentClient   Component = "client"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

var (
	// DefaultLogger is the logger used by every component.
	DefaultLogger *slog.Logger

	// logLevel is the minimum level of components without an override.
	logLevel = new(slog.LevelVar)

	// handlerLevel is the lowest level any component logs at. Handlers built
	// here filter on it; the per-component filter is applied before them.
	handlerLevel = new(slog.LevelVar)

	// componentLevels holds per-component overrides of logLevel.
	componentLevels = map[Component]slog.Level{}

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	handlerLevel.Set(slog.LevelWarn)
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: handlerLevel,
	}))
}

// updateHandlerLevel recomputes handlerLevel. Callers hold logMutex.
func updateHandlerLevel() {
	lowest := logLevel.Level()
	for _, l := range componentLevels {
		lowest = min(lowest, l)
	}
	handlerLevel.Set(lowest)
}

// SetLogLevel sets the minimum log level of every component without its own
// level.
func SetLogLevel(level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logLevel.Set(level)
	updateHandlerLevel()
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() slog.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logLevel.Level()
}

// SetComponentLevel sets the minimum log level of one component, e.g. to
// trace the dispatcher at debug while the rest stays at warn.
func SetComponentLevel(component Component, level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	componentLevels[component] = level
	updateHandlerLevel()
}

// ClearComponentLevel removes the level override of a component.
func ClearComponentLevel(component Component) {
	logMutex.Lock()
	defer logMutex.Unlock()
	delete(componentLevels, component)
	updateHandlerLevel()
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat configures the default logger to use the specified format.
// The logger writes to os.Stderr and uses the current log levels.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	opts := &slog.HandlerOptions{Level: handlerLevel}
	switch format {
	case LogFormatJSON:
		DefaultLogger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	default:
		DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
}

// NewLogger creates a new text logger writing to the given writer.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: handlerLevel}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: handlerLevel}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// loggerFor returns the default logger, or nil if component does not log at
// level.
func loggerFor(component Component, level slog.Level) *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	threshold, ok := componentLevels[component]
	if !ok {
		threshold = logLevel.Level()
	}
	if level < threshold {
		return nil
	}
	return DefaultLogger
}

func logAt(component Component, level slog.Level, msg string, args []any) {
	l := loggerFor(component, level)
	if l == nil {
		return
	}
	l.Log(context.Background(), level, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs a debug message with component context.
func LogDebug(component Component, msg string, args ...any) {
	logAt(component, slog.LevelDebug, msg, args)
}

// LogInfo logs an info message with component context.
func LogInfo(component Component, msg string, args ...any) {
	logAt(component, slog.LevelInfo, msg, args)
}

// LogWarn logs a warning message with component context.
func LogWarn(component Component, msg string, args ...any) {
	logAt(component, slog.LevelWarn, msg, args)
}

// LogError logs an error message with component context.
func LogError(component Component, msg string, args ...any) {
	logAt(component, slog.LevelError, msg, args)
}
