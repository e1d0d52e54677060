package relay

import (
	"errors"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sshpilot/termbridge/pkg/control"
	"github.com/sshpilot/termbridge/pkg/logging"
	"github.com/sshpilot/termbridge/pkg/terminal"
)

// session wires a live /bin/sh behind a relay loop driven by plain
// pipes, standing in for the launcher-side streams.
type session struct {
	pty    *terminal.Pty
	shell  *terminal.Shell
	stdinW *os.File
	outR   *os.File
	ctrlW  *os.File
	done   chan error
}

func startSession(t *testing.T, withControl bool) *session {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("relay tests require a unix platform")
	}
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skip("no pty device available")
	}

	log := logging.Discard()
	p, err := terminal.NewPty(log)
	if err != nil {
		t.Fatalf("NewPty: %v", err)
	}
	if err := p.SetSize(24, 80); err != nil {
		t.Fatalf("SetSize: %v", err)
	}

	sh, err := terminal.SpawnShell(p, "/bin/sh", t.TempDir(), "dumb", log)
	if err != nil {
		p.Close()
		t.Fatalf("SpawnShell: %v", err)
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}

	var ctrl *control.Channel
	var ctrlW *os.File
	if withControl {
		ctrlR, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("pipe: %v", err)
		}
		ctrlW = w
		fd, err := unix.Dup(int(ctrlR.Fd()))
		if err != nil {
			t.Fatalf("dup: %v", err)
		}
		ctrl = control.NewChannel(fd, log)
		t.Cleanup(func() {
			ctrl.Close()
			_ = ctrlR.Close()
			_ = w.Close()
		})
	}

	s := &session{
		pty:    p,
		shell:  sh,
		stdinW: inW,
		outR:   outR,
		ctrlW:  ctrlW,
		done:   make(chan error, 1),
	}
	loop := New(int(inR.Fd()), int(outW.Fd()), p, ctrl, log)
	go func() { s.done <- loop.Run() }()

	t.Cleanup(func() {
		// Interactive shells may ignore SIGTERM; closing the master
		// hangs the session up, and SIGKILL is the backstop.
		sh.Terminate()
		p.Close()
		waited := make(chan struct{})
		go func() {
			_ = sh.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(3 * time.Second):
			_ = unix.Kill(-sh.Pid(), unix.SIGKILL)
			<-waited
		}
		for _, f := range []*os.File{inR, inW, outR, outW} {
			_ = f.Close()
		}
	})
	return s
}

func (s *session) waitDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("relay loop did not stop")
		return nil
	}
}

// expectOutput reads the relay's output leg until want shows up.
func (s *session) expectOutput(t *testing.T, want string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	buf := make([]byte, 4096)
	var acc strings.Builder

	for time.Now().Before(deadline) {
		_ = s.outR.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := s.outR.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			if strings.Contains(acc.String(), want) {
				return
			}
		}
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			break
		}
	}
	t.Fatalf("output missing %q, got %q", want, acc.String())
}

func TestLoop_RelaysBothDirections(t *testing.T) {
	s := startSession(t, false)

	if _, err := s.stdinW.WriteString("echo \"mark:$((6*7))\"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	s.expectOutput(t, "mark:42")
}

func TestLoop_StdinEOFStopsLoop(t *testing.T) {
	s := startSession(t, false)

	_ = s.stdinW.Close()
	if err := s.waitDone(t); err != nil {
		t.Errorf("expected clean stop on stdin EOF, got %v", err)
	}
}

func TestLoop_ShellExitStopsLoop(t *testing.T) {
	s := startSession(t, false)

	if _, err := s.stdinW.WriteString("exit\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.waitDone(t); err != nil {
		t.Errorf("expected clean stop on shell exit, got %v", err)
	}
}

func TestLoop_ControlResizeApplied(t *testing.T) {
	s := startSession(t, true)

	line, err := control.EncodeResize(40, 120)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := s.ctrlW.Write(line); err != nil {
		t.Fatalf("write control: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rows, cols, err := s.pty.Size()
		if err == nil && rows == 40 && cols == 120 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	rows, cols, _ := s.pty.Size()
	t.Fatalf("resize never applied, pty reports %dx%d", rows, cols)
}

func TestLoop_SurvivesMalformedControl(t *testing.T) {
	s := startSession(t, true)

	if _, err := s.ctrlW.WriteString("garbage\n"); err != nil {
		t.Fatalf("write control: %v", err)
	}
	// The loop must still relay data afterwards.
	if _, err := s.stdinW.WriteString("echo \"mark:$((6*7))\"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	s.expectOutput(t, "mark:42")
}

func TestLoop_RequiresPty(t *testing.T) {
	loop := New(0, 1, &terminal.Pty{}, nil, logging.Discard())
	if err := loop.Run(); err == nil {
		t.Error("expected error for a loop without a pty")
	}
}
