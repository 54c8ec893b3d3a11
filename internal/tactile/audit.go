package tactile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dailyrun/internal/logging"
)

// AuditLogger fans execution events out to callbacks, an optional JSON Lines
// file and running metrics. Events reaching it carry redacted commands only.
type AuditLogger struct {
	mu sync.RWMutex

	// callbacks are functions to call for each event
	callbacks []func(AuditEvent)

	// fileLogger writes events to a file
	fileLogger *AuditFileLogger

	// metrics tracks execution statistics
	metrics *ExecutionMetrics
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{
		callbacks: make([]func(AuditEvent), 0),
		metrics:   NewExecutionMetrics(),
	}
}

// AddCallback adds a callback function for audit events.
func (l *AuditLogger) AddCallback(callback func(AuditEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, callback)
}

// EnableFileLogging enables logging to a file.
func (l *AuditLogger) EnableFileLogging(path string) error {
	fl, err := NewAuditFileLogger(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileLogger != nil {
		_ = l.fileLogger.Close()
	}
	l.fileLogger = fl
	return nil
}

// Close closes the audit logger and any file handles.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLogger != nil {
		err := l.fileLogger.Close()
		l.fileLogger = nil
		return err
	}
	return nil
}

// Log logs an audit event.
func (l *AuditLogger) Log(event AuditEvent) {
	l.mu.RLock()
	callbacks := l.callbacks
	fileLogger := l.fileLogger
	metrics := l.metrics
	l.mu.RUnlock()

	if metrics != nil {
		metrics.RecordEvent(event)
	}

	for _, cb := range callbacks {
		cb(event)
	}

	if fileLogger != nil {
		if err := fileLogger.Write(event); err != nil {
			logging.TactileWarn("Audit file write failed: %v", err)
		}
	}
}

// Attach registers this logger as the audit callback of executor.
func (l *AuditLogger) Attach(executor AuditedExecutor) {
	executor.SetAuditCallback(l.Log)
}

// GetMetrics returns the current execution metrics.
func (l *AuditLogger) GetMetrics() ExecutionMetricsSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.metrics == nil {
		return ExecutionMetricsSnapshot{}
	}
	return l.metrics.Snapshot()
}

// AuditFileLogger writes audit events to a file in JSON Lines format.
type AuditFileLogger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewAuditFileLogger creates a new file logger.
func NewAuditFileLogger(path string) (*AuditFileLogger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &AuditFileLogger{
		file: file,
		path: path,
	}, nil
}

// Write writes an event to the log file.
func (l *AuditFileLogger) Write(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("log file not open")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = l.file.Write(append(data, '\n'))
	return err
}

// Close closes the log file.
func (l *AuditFileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// ExecutionMetrics tracks execution statistics.
type ExecutionMetrics struct {
	mu sync.RWMutex

	totalExecutions      int64
	successfulExecutions int64
	nonZeroExits         int64
	failedExecutions     int64
	killedExecutions     int64

	totalDurationMs int64
	totalCPUTimeMs  int64

	executionsByBinary map[string]int64
	executionsByRun    map[string]int64

	lastEventTime time.Time
}

// NewExecutionMetrics creates a new metrics tracker.
func NewExecutionMetrics() *ExecutionMetrics {
	return &ExecutionMetrics{
		executionsByBinary: make(map[string]int64),
		executionsByRun:    make(map[string]int64),
	}
}

// RecordEvent updates metrics based on an audit event.
func (m *ExecutionMetrics) RecordEvent(event AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastEventTime = event.Timestamp

	switch event.Type {
	case AuditEventStart:
		m.totalExecutions++
		m.executionsByBinary[event.Command.Binary]++
		if event.RunID != "" {
			m.executionsByRun[event.RunID]++
		}

	case AuditEventComplete:
		if event.Result == nil {
			return
		}
		if event.Result.ExitCode == 0 {
			m.successfulExecutions++
		} else {
			m.nonZeroExits++
		}
		m.totalDurationMs += event.Result.Duration.Milliseconds()
		if event.Result.ResourceUsage != nil {
			m.totalCPUTimeMs += event.Result.ResourceUsage.TotalCPUTimeMs()
		}

	case AuditEventKilled:
		m.killedExecutions++
		if event.Result != nil {
			m.totalDurationMs += event.Result.Duration.Milliseconds()
		}

	case AuditEventError:
		m.failedExecutions++
	}
}

// ExecutionMetricsSnapshot is a point-in-time copy of metrics.
type ExecutionMetricsSnapshot struct {
	TotalExecutions      int64            `json:"total_executions"`
	SuccessfulExecutions int64            `json:"successful_executions"`
	NonZeroExits         int64            `json:"non_zero_exits"`
	FailedExecutions     int64            `json:"failed_executions"`
	KilledExecutions     int64            `json:"killed_executions"`
	TotalDurationMs      int64            `json:"total_duration_ms"`
	TotalCPUTimeMs       int64            `json:"total_cpu_time_ms"`
	ExecutionsByBinary   map[string]int64 `json:"executions_by_binary"`
	ExecutionsByRun      map[string]int64 `json:"executions_by_run"`
	LastEventTime        time.Time        `json:"last_event_time"`
	SuccessRate          float64          `json:"success_rate"`
	AvgDurationMs        float64          `json:"avg_duration_ms"`
}

// Snapshot returns a copy of current metrics.
func (m *ExecutionMetrics) Snapshot() ExecutionMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byBinary := make(map[string]int64, len(m.executionsByBinary))
	for k, v := range m.executionsByBinary {
		byBinary[k] = v
	}
	byRun := make(map[string]int64, len(m.executionsByRun))
	for k, v := range m.executionsByRun {
		byRun[k] = v
	}

	successRate := float64(0)
	avgDuration := float64(0)
	finished := m.successfulExecutions + m.nonZeroExits + m.killedExecutions
	if ended := finished + m.failedExecutions; ended > 0 {
		successRate = float64(m.successfulExecutions) / float64(ended)
	}
	if finished > 0 {
		avgDuration = float64(m.totalDurationMs) / float64(finished)
	}

	return ExecutionMetricsSnapshot{
		TotalExecutions:      m.totalExecutions,
		SuccessfulExecutions: m.successfulExecutions,
		NonZeroExits:         m.nonZeroExits,
		FailedExecutions:     m.failedExecutions,
		KilledExecutions:     m.killedExecutions,
		TotalDurationMs:      m.totalDurationMs,
		TotalCPUTimeMs:       m.totalCPUTimeMs,
		ExecutionsByBinary:   byBinary,
		ExecutionsByRun:      byRun,
		LastEventTime:        m.lastEventTime,
		SuccessRate:          successRate,
		AvgDurationMs:        avgDuration,
	}
}
