package launcher

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sshpilot/termbridge/pkg/control"
	"github.com/sshpilot/termbridge/pkg/interfaces"
)

// readyPollInterval bounds each non-blocking read while waiting for the
// agent's ready signal.
const readyPollInterval = 100 * time.Millisecond

// Process is a launched agent with piped standard streams. Stdin and
// Stdout carry terminal bytes for the embedding widget; Status is the
// agent's side channel; the control writer carries resize messages.
type Process struct {
	cmd *exec.Cmd
	log interfaces.Logger

	stdin   *os.File // write: terminal input to the agent
	stdout  *os.File // read: terminal output from the agent
	status  *os.File // read: newline-delimited JSON status
	control *os.File // write: newline-delimited JSON control

	done      chan struct{}
	waitErr   error
	closeOnce sync.Once
}

// Pid returns the agent's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stdin is the writer feeding the agent's terminal input.
func (p *Process) Stdin() *os.File { return p.stdin }

// Stdout is the reader carrying the agent's terminal output.
func (p *Process) Stdout() *os.File { return p.stdout }

// Done is closed once the agent process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the agent process has already exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Resize sends a window size change over the control channel.
func (p *Process) Resize(rows, cols int) error {
	if p.control == nil {
		return errors.New("agent launched without a control channel")
	}
	line, err := control.EncodeResize(rows, cols)
	if err != nil {
		return err
	}
	if _, err := p.control.Write(line); err != nil {
		return fmt.Errorf("failed to send resize: %w", err)
	}
	return nil
}

// WaitForReady polls the status channel until a ready or error message
// arrives, the timeout elapses, or the process exits. It never blocks
// past the timeout. false means the agent is not usable; the caller
// still owns the process and must terminate it.
func (p *Process) WaitForReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 512)
	var acc []byte

	for time.Now().Before(deadline) {
		if p.Exited() {
			p.log.Errorf("agent process exited before signalling ready")
			return false
		}

		_ = p.status.SetReadDeadline(time.Now().Add(readyPollInterval))
		n, err := p.status.Read(chunk)
		if n > 0 {
			acc = append(acc, chunk[:n]...)
			if ready, decided := p.scanStatus(&acc); decided {
				return ready
			}
		}
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			// Status channel gone; give the exit notice a moment to land.
			time.Sleep(readyPollInterval)
		}
	}

	p.log.Warnf("timeout waiting for agent ready signal")
	return false
}

// scanStatus consumes complete status lines from acc. decided is true
// once a ready or error message was seen.
func (p *Process) scanStatus(acc *[]byte) (ready, decided bool) {
	for {
		idx := bytes.IndexByte(*acc, '\n')
		if idx < 0 {
			return false, false
		}
		line := bytes.TrimSpace((*acc)[:idx])
		*acc = (*acc)[idx+1:]
		if len(line) == 0 {
			continue
		}

		msg, err := control.DecodeStatus(line)
		if err != nil {
			// Verbose agents interleave diagnostics on the same pipe.
			p.log.Debugf("non-JSON status line from agent: %s", line)
			continue
		}
		switch msg.Type {
		case control.StatusReady:
			p.log.Infof("agent ready (shell pid %d)", msg.Pid)
			return true, true
		case control.StatusError:
			p.log.Errorf("agent error: %s", msg.Message)
			return false, true
		}
	}
}

// Terminate tears the agent session down: SIGTERM to its process
// group, escalating to SIGKILL if it does not exit promptly, then
// closes all descriptors the bridge still owns.
func (p *Process) Terminate() {
	pid := p.cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		p.log.Debugf("failed to terminate agent process group %d: %v", pid, err)
	}

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		_ = unix.Kill(-pid, unix.SIGKILL)
		<-p.done
	}

	p.closeFiles()
}

// closeFiles closes every descriptor exactly once.
func (p *Process) closeFiles() {
	p.closeOnce.Do(func() {
		for _, f := range []*os.File{p.stdin, p.stdout, p.status, p.control} {
			if f != nil {
				_ = f.Close()
			}
		}
	})
}

// Launch builds the command and spawns the agent with piped standard
// streams. The agent becomes its own session leader so its exit never
// hangs up the caller. Any allocated descriptor is closed on failure.
func (l *Launcher) Launch(rows, cols int, cwd string) (*Process, error) {
	lc, err := l.BuildCommand(rows, cols, cwd, l.cfg.Verbose)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(lc.Path, lc.Args...)
	cmd.Env = os.Environ()
	if l.cfg.Term != "" {
		cmd.Env = append(cmd.Env, "TERM="+l.cfg.Term)
	}
	cmd.ExtraFiles = []*os.File{lc.controlReader}
	if lc.payloadFile != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, lc.payloadFile)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		lc.Close()
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		lc.Close()
		closeFiles(stdinR, stdinW)
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	statusR, statusW, err := os.Pipe()
	if err != nil {
		lc.Close()
		closeFiles(stdinR, stdinW, stdoutR, stdoutW)
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = statusW

	l.log.Infof("launching agent: %s", lc.Path)
	if err := cmd.Start(); err != nil {
		lc.Close()
		closeFiles(stdinR, stdinW, stdoutR, stdoutW, statusR, statusW)
		return nil, fmt.Errorf("failed to launch agent: %w", err)
	}

	// Handoff complete: the child owns its copies of the child-side
	// ends, the control reader and the staged payload.
	closeFiles(stdinR, stdoutW, statusW)
	lc.releaseReader()
	lc.releasePayload()

	p := &Process{
		cmd:     cmd,
		log:     l.log,
		stdin:   stdinW,
		stdout:  stdoutR,
		status:  statusR,
		control: lc.detachWriter(),
		done:    make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	l.log.Debugf("agent launched with pid %d", cmd.Process.Pid)
	return p, nil
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
