// Package logging provides categorized zap loggers for dailyrun.
// A root logger is installed once at startup; every category is a named child
// of it and can be switched off from the logging.categories config map.
// Everything here writes to stderr: stdout is reserved for the run protocol.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup, config loading
	CategoryDriver  Category = "driver"  // Per-day loop
	CategoryTactile Category = "tactile" // Command execution
	CategoryStore   Category = "store"   // Run history database
)

// Options controls construction of the root logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// Verbose forces debug level regardless of Level.
	Verbose bool
}

// New builds a production zap logger for the given options.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

var (
	mu         sync.RWMutex
	root       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*zap.Logger)
)

// Install sets the root logger and the per-category toggles.
// A nil categories map enables every category.
func Install(logger *zap.Logger, cats map[string]bool) {
	if logger == nil {
		logger = zap.NewNop()
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	categories = cats
	loggers = make(map[Category]*zap.Logger)
}

// Reset restores the no-op root logger.
func Reset() {
	Install(nil, nil)
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) the logger for the given category.
// Disabled categories get a no-op logger.
func Get(category Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	l := zap.NewNop()
	if categoryEnabledLocked(category) {
		l = root.Named(string(category))
	}
	loggers[category] = l
	return l
}

// Sync flushes the root logger.
func Sync() error {
	mu.RLock()
	l := root
	mu.RUnlock()
	return l.Sync()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - printf-style logging without getting a logger first
// =============================================================================

func sugar(category Category) *zap.SugaredLogger {
	return Get(category).Sugar()
}

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	sugar(CategoryBoot).Infof(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	sugar(CategoryBoot).Debugf(format, args...)
}

// Driver logs to the driver category
func Driver(format string, args ...interface{}) {
	sugar(CategoryDriver).Infof(format, args...)
}

// DriverDebug logs debug to the driver category
func DriverDebug(format string, args ...interface{}) {
	sugar(CategoryDriver).Debugf(format, args...)
}

// DriverWarn logs warning to the driver category
func DriverWarn(format string, args ...interface{}) {
	sugar(CategoryDriver).Warnf(format, args...)
}

// Tactile logs to the tactile category
func Tactile(format string, args ...interface{}) {
	sugar(CategoryTactile).Infof(format, args...)
}

// TactileDebug logs debug to the tactile category
func TactileDebug(format string, args ...interface{}) {
	sugar(CategoryTactile).Debugf(format, args...)
}

// TactileWarn logs warning to the tactile category
func TactileWarn(format string, args ...interface{}) {
	sugar(CategoryTactile).Warnf(format, args...)
}

// TactileError logs error to the tactile category
func TactileError(format string, args ...interface{}) {
	sugar(CategoryTactile).Errorf(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	sugar(CategoryStore).Infof(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	sugar(CategoryStore).Debugf(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) {
	sugar(CategoryStore).Warnf(format, args...)
}

// =============================================================================
// TIMING
// =============================================================================

// Timer measures the duration of an operation for a category.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn(t.op+" exceeded threshold",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", threshold))
	} else {
		Get(t.category).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
