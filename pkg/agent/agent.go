// Package agent wires the PTY, shell, control channel and relay loop
// into the host-side helper process.
package agent

import (
	"os"
	"sync"

	"github.com/sshpilot/termbridge/pkg/control"
	"github.com/sshpilot/termbridge/pkg/interfaces"
	"github.com/sshpilot/termbridge/pkg/relay"
	"github.com/sshpilot/termbridge/pkg/terminal"
)

// Options configure one agent run.
type Options struct {
	Rows int
	Cols int

	// Cwd is the shell's working directory; empty means the user's
	// home directory.
	Cwd string

	// Term overrides the TERM value exported to the shell when the
	// environment does not already carry one.
	Term string

	// ControlFd is the inherited control channel descriptor, or -1
	// when the agent runs without one.
	ControlFd int

	// Shell bypasses discovery when set. Used by tests and by callers
	// that already resolved the shell.
	Shell string

	// Stdin/Stdout are the caller-facing data stream ends; nil means
	// the process's own standard streams.
	Stdin  *os.File
	Stdout *os.File

	// OnReady runs after the ready status is emitted, before the relay
	// loop starts. The entry point uses it to silence diagnostics in
	// non-verbose runs.
	OnReady func()
}

// Agent is one PTY bridge session: a pty pair, a login shell and the
// relay loop between the shell and the caller.
type Agent struct {
	opts   Options
	status interfaces.StatusReporter
	log    interfaces.Logger

	pty  *terminal.Pty
	ctrl *control.Channel

	// mu guards shell: Shutdown runs on the signal goroutine while Run
	// and cleanup own the rest of the state.
	mu    sync.Mutex
	shell *terminal.Shell
}

// New creates an agent. Status and log must be non-nil; callers that
// want neither pass a disabled reporter and a discard logger.
func New(opts Options, status interfaces.StatusReporter, log interfaces.Logger) *Agent {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return &Agent{opts: opts, status: status, log: log}
}

// Run performs the full lifecycle: discover shell, allocate the pty,
// apply the initial size, attach the control channel, spawn the shell,
// report ready and relay until the session ends. Fatal startup errors
// are reported on the status channel and returned; the caller exits
// non-zero. Cleanup runs on every path.
func (a *Agent) Run() error {
	defer a.cleanup()

	shellPath := a.opts.Shell
	if shellPath == "" {
		shellPath = terminal.DiscoverShell(a.log)
	}
	a.log.Infof("using shell: %s", shellPath)

	pty, err := terminal.NewPty(a.log)
	if err != nil {
		return a.fail(err)
	}
	a.pty = pty

	if err := pty.SetSize(a.opts.Rows, a.opts.Cols); err != nil {
		a.log.Errorf("initial resize failed: %v", err)
	}

	if a.opts.ControlFd >= 0 {
		a.ctrl = control.NewChannel(a.opts.ControlFd, a.log)
	}

	shell, err := terminal.SpawnShell(pty, shellPath, a.opts.Cwd, a.opts.Term, a.log)
	if err != nil {
		return a.fail(err)
	}
	a.mu.Lock()
	a.shell = shell
	a.mu.Unlock()

	a.status.ReportReady(shell.Pid())
	if a.opts.OnReady != nil {
		a.opts.OnReady()
	}

	loop := relay.New(int(a.opts.Stdin.Fd()), int(a.opts.Stdout.Fd()), pty, a.ctrl, a.log)
	return loop.Run()
}

// Shutdown unblocks a running relay loop by tearing the shell down.
// Terminating the process group closes the slave side, which surfaces
// as EOF/EIO on the master and ends the loop. Safe to call from any
// goroutine, including before the shell exists.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	sh := a.shell
	a.mu.Unlock()
	if sh != nil {
		sh.Terminate()
	}
}

// fail surfaces a fatal startup error on the status channel.
func (a *Agent) fail(err error) error {
	a.log.Errorf("agent error: %v", err)
	a.status.ReportError(err.Error())
	return err
}

// cleanup terminates the shell's process group, closes every descriptor
// the agent still owns and reaps the shell. The master is closed before
// the reap: interactive shells ignore SIGTERM, but losing their
// controlling terminal delivers SIGHUP and they exit.
func (a *Agent) cleanup() {
	a.log.Debugf("cleaning up agent resources")

	a.mu.Lock()
	sh := a.shell
	a.shell = nil
	a.mu.Unlock()

	if sh != nil {
		sh.Terminate()
	}
	if a.ctrl != nil {
		a.ctrl.Close()
		a.ctrl = nil
	}
	if a.pty != nil {
		a.pty.Close()
		a.pty = nil
	}
	if sh != nil {
		if err := sh.Wait(); err != nil {
			a.log.Debugf("shell exit: %v", err)
		}
	}
}
