// Package status emits the agent's structured startup messages on a
// side channel distinct from the terminal data stream.
package status

import (
	"io"
	"sync"

	"github.com/sshpilot/termbridge/pkg/control"
	"github.com/sshpilot/termbridge/pkg/interfaces"
)

// Reporter writes newline-delimited JSON status messages. When the
// agent was started from an interactive terminal the side channel IS
// that terminal, so the caller constructs the reporter disabled instead
// of the reporter sniffing the descriptor at write time - that keeps
// the suppression testable without a real terminal.
type Reporter struct {
	mu      sync.Mutex
	writer  io.Writer
	enabled bool
	log     interfaces.Logger
}

// Ensure Reporter implements interfaces.StatusReporter
var _ interfaces.StatusReporter = (*Reporter)(nil)

// NewReporter creates a reporter writing to w. With enabled false all
// reports are dropped.
func NewReporter(w io.Writer, enabled bool, log interfaces.Logger) *Reporter {
	return &Reporter{
		writer:  w,
		enabled: enabled,
		log:     log,
	}
}

// ReportReady signals that the shell is up, carrying its pid.
func (r *Reporter) ReportReady(pid int) {
	r.emit(control.Status{Type: control.StatusReady, Pid: pid})
}

// ReportError signals a fatal startup failure.
func (r *Reporter) ReportError(message string) {
	r.emit(control.Status{Type: control.StatusError, Message: message})
}

func (r *Reporter) emit(s control.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled || r.writer == nil {
		r.log.Debugf("status %q suppressed (interactive side channel)", s.Type)
		return
	}

	line, err := control.EncodeStatus(s)
	if err != nil {
		r.log.Debugf("failed to encode status message: %v", err)
		return
	}
	if _, err := r.writer.Write(line); err != nil {
		r.log.Debugf("failed to send status message: %v", err)
	}
}
