// Package interfaces defines the core interfaces used throughout the bridge.
package interfaces

// Logger is the diagnostic sink injected into each component. The agent
// must never write free-form diagnostics to its data stream, so every
// component logs through an explicitly provided Logger instead of an
// ambient singleton.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// StatusReporter emits structured status messages on a side channel
// distinct from the terminal data stream.
type StatusReporter interface {
	ReportReady(pid int)
	ReportError(message string)
}

// Resizer receives window size changes, typically pushing them to a PTY
// and notifying the foreground process group.
type Resizer interface {
	SetSize(rows, cols int) error
}
