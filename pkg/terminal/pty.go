// Package terminal owns the PTY pair and the login shell attached to
// it. Getting the session and controlling-terminal handoff right here
// is what makes job control work in the embedded terminal.
package terminal

import (
	"errors"
	"fmt"
	"os"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/sshpilot/termbridge/pkg/interfaces"
)

// ErrAllocation indicates the platform pty facility is exhausted or
// unavailable.
var ErrAllocation = errors.New("pty allocation failed")

// Pty owns the master/slave descriptor pair for one shell session. The
// master outlives the relay loop; the slave is released in the parent
// as soon as the shell inherits it.
type Pty struct {
	master *os.File
	slave  *os.File
	rows   int
	cols   int
	pgrp   int
	log    interfaces.Logger
}

// Ensure Pty implements interfaces.Resizer
var _ interfaces.Resizer = (*Pty)(nil)

// NewPty opens a master/slave pair. The slave is opened without a
// controlling terminal (O_NOCTTY) so the shell can claim it itself
// during spawn - the automatic assignment is exactly what breaks job
// control.
func NewPty(log interfaces.Logger) (*Pty, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	log.Debugf("created pty: master=%d slave=%d", master.Fd(), slave.Fd())
	return &Pty{master: master, slave: slave, log: log}, nil
}

// Master returns the master side of the pair.
func (p *Pty) Master() *os.File {
	if p == nil {
		return nil
	}
	return p.master
}

// Slave returns the slave side, or nil once released to the shell.
func (p *Pty) Slave() *os.File {
	if p == nil {
		return nil
	}
	return p.slave
}

// ReleaseSlave closes the parent's copy of the slave. Called
// immediately after spawn; the shell keeps its own inherited copy.
func (p *Pty) ReleaseSlave() {
	if p == nil || p.slave == nil {
		return
	}
	_ = p.slave.Close()
	p.slave = nil
}

// AttachProcessGroup records the shell's process group so size changes
// can be signalled with SIGWINCH.
func (p *Pty) AttachProcessGroup(pid int) {
	p.pgrp = pid
}

// SetSize pushes the window size to the PTY and notifies the shell's
// process group. Calling before the pty exists is a no-op, not an
// error: the embedding widget may deliver a resize ahead of allocation.
func (p *Pty) SetSize(rows, cols int) error {
	if p == nil || p.master == nil {
		return nil
	}

	ws := &unix.Winsize{Row: uint16(rows), Col: uint16(cols)}
	if err := unix.IoctlSetWinsize(int(p.master.Fd()), unix.TIOCSWINSZ, ws); err != nil {
		return fmt.Errorf("failed to set pty size to %dx%d: %w", rows, cols, err)
	}
	p.rows = rows
	p.cols = cols
	p.log.Debugf("set pty size to %dx%d", rows, cols)

	if p.pgrp > 0 {
		// ESRCH just means the shell is already gone.
		if err := unix.Kill(-p.pgrp, unix.SIGWINCH); err != nil && !errors.Is(err, unix.ESRCH) {
			p.log.Debugf("failed to signal process group %d about resize: %v", p.pgrp, err)
		}
	}
	return nil
}

// Size queries the current window size from the kernel.
func (p *Pty) Size() (rows, cols int, err error) {
	if p == nil || p.master == nil {
		return 0, 0, errors.New("pty not created")
	}
	ws, err := unix.IoctlGetWinsize(int(p.master.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Row), int(ws.Col), nil
}

// Close releases both descriptors. Each is closed at most once.
func (p *Pty) Close() {
	if p == nil {
		return
	}
	if p.master != nil {
		_ = p.master.Close()
		p.master = nil
	}
	if p.slave != nil {
		_ = p.slave.Close()
		p.slave = nil
	}
}
