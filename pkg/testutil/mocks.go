// Package testutil provides shared mock implementations for tests.
package testutil

import (
	"fmt"
	"sync"

	"github.com/sshpilot/termbridge/pkg/interfaces"
)

// MockLogger is a thread-safe logger that records every line for
// later inspection.
type MockLogger struct {
	mu    sync.Mutex
	lines []string
}

// Ensure MockLogger implements interfaces.Logger
var _ interfaces.Logger = (*MockLogger)(nil)

// NewMockLogger creates a new mock logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Debugf records a debug line.
func (m *MockLogger) Debugf(format string, args ...any) { m.record("DEBUG", format, args...) }

// Infof records an info line.
func (m *MockLogger) Infof(format string, args ...any) { m.record("INFO", format, args...) }

// Warnf records a warning line.
func (m *MockLogger) Warnf(format string, args ...any) { m.record("WARNING", format, args...) }

// Errorf records an error line.
func (m *MockLogger) Errorf(format string, args ...any) { m.record("ERROR", format, args...) }

func (m *MockLogger) record(level, format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, level+": "+fmt.Sprintf(format, args...))
}

// Lines returns a copy of all recorded lines.
func (m *MockLogger) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.lines))
	copy(result, m.lines)
	return result
}

// MockStatusReporter records emitted status messages.
type MockStatusReporter struct {
	mu        sync.Mutex
	readyPids []int
	errors    []string
}

// Ensure MockStatusReporter implements interfaces.StatusReporter
var _ interfaces.StatusReporter = (*MockStatusReporter)(nil)

// NewMockStatusReporter creates a new mock status reporter.
func NewMockStatusReporter() *MockStatusReporter {
	return &MockStatusReporter{}
}

// ReportReady records a ready report.
func (m *MockStatusReporter) ReportReady(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyPids = append(m.readyPids, pid)
}

// ReportError records an error report.
func (m *MockStatusReporter) ReportError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, message)
}

// ReadyPids returns a copy of all reported ready pids.
func (m *MockStatusReporter) ReadyPids() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]int, len(m.readyPids))
	copy(result, m.readyPids)
	return result
}

// Errors returns a copy of all reported error messages.
func (m *MockStatusReporter) Errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.errors))
	copy(result, m.errors)
	return result
}
