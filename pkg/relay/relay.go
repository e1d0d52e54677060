// Package relay moves bytes between the agent's standard streams and
// the PTY master on a single thread, draining control messages as a
// third input. The blocking readiness wait is the loop's only
// suspension point; there is no other goroutine and no locking.
package relay

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/sshpilot/termbridge/pkg/control"
	"github.com/sshpilot/termbridge/pkg/interfaces"
	"github.com/sshpilot/termbridge/pkg/terminal"
)

// readChunk bounds every read: one wakeup issues at most one read of
// this size per readable descriptor. Fixed-size reads with no
// backpressure between the two directions can in principle starve one
// side under sustained load in the other; this mirrors the historical
// behavior and stays until there is performance evidence against it.
const readChunk = 4096

// Loop is the single-threaded relay between the caller (stdin/stdout)
// and the shell (PTY master).
type Loop struct {
	stdinFd  int
	stdoutFd int
	pty      *terminal.Pty
	ctrl     *control.Channel
	log      interfaces.Logger
}

// New builds a relay loop over the given PTY. ctrl may be nil when the
// agent runs without a control channel. stdinFd/stdoutFd are the
// caller-facing data stream descriptors, normally 0 and 1.
func New(stdinFd, stdoutFd int, p *terminal.Pty, ctrl *control.Channel, log interfaces.Logger) *Loop {
	return &Loop{
		stdinFd:  stdinFd,
		stdoutFd: stdoutFd,
		pty:      p,
		ctrl:     ctrl,
		log:      log,
	}
}

// Run relays until either data leg reaches EOF or fails; shutdown is
// all-or-nothing. The inherited stdin is switched to raw mode so every
// byte passes through untouched, and the previous mode is restored on
// every return path.
func (l *Loop) Run() error {
	master := l.pty.Master()
	if master == nil {
		return errors.New("pty not created")
	}
	masterFd := int(master.Fd())

	if state, err := term.MakeRaw(l.stdinFd); err == nil {
		defer func() { _ = term.Restore(l.stdinFd, state) }()
	} else {
		// Not fatal: stdin may be a pipe rather than a terminal.
		l.log.Debugf("could not set raw mode on stdin: %v", err)
	}

	l.log.Debugf("starting relay loop")
	buf := make([]byte, readChunk)

	for {
		var fds unix.FdSet
		fds.Zero()
		fds.Set(l.stdinFd)
		fds.Set(masterFd)
		nfds := maxFd(l.stdinFd, masterFd)
		if l.ctrl != nil && !l.ctrl.Closed() {
			fds.Set(l.ctrl.Fd())
			nfds = maxFd(nfds, l.ctrl.Fd())
		}

		if _, err := unix.Select(nfds+1, &fds, nil, nil, nil); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("select: %w", err)
		}

		if fds.IsSet(l.stdinFd) {
			if done := l.pump(l.stdinFd, masterFd, buf, "stdin"); done {
				return nil
			}
		}

		if fds.IsSet(masterFd) {
			if done := l.pump(masterFd, l.stdoutFd, buf, "pty master"); done {
				return nil
			}
		}

		if l.ctrl != nil && !l.ctrl.Closed() && fds.IsSet(l.ctrl.Fd()) {
			l.drainControl()
		}
	}
}

// pump performs one bounded read from src and writes the result to
// dst. Returns true when the relay should stop: EOF or error on either
// leg tears the whole session down.
func (l *Loop) pump(src, dst int, buf []byte, name string) bool {
	n, err := unix.Read(src, buf)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false
		}
		// EIO from the master is the normal way a Linux pty reports
		// that the shell side is gone.
		l.log.Debugf("%s read error: %v", name, err)
		return true
	}
	if n == 0 {
		l.log.Debugf("%s closed", name)
		return true
	}
	if err := writeAll(dst, buf[:n]); err != nil {
		l.log.Debugf("%s relay write error: %v", name, err)
		return true
	}
	return false
}

// drainControl applies any complete control messages. Unknown variants
// are ignored; resize failures are logged, never fatal.
func (l *Loop) drainControl() {
	for _, msg := range l.ctrl.ReadPending() {
		switch msg.Type {
		case control.MessageResize:
			if err := l.pty.SetSize(msg.Rows, msg.Cols); err != nil {
				l.log.Errorf("resize to %dx%d failed: %v", msg.Rows, msg.Cols, err)
			}
		default:
			l.log.Debugf("ignoring unknown control message type: %q", msg.RawType)
		}
	}
}

// writeAll retries short writes until buf is fully written.
func writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func maxFd(a, b int) int {
	if a > b {
		return a
	}
	return b
}
