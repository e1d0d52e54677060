package launcher

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/sshpilot/termbridge/pkg/config"
	"github.com/sshpilot/termbridge/pkg/logging"
)

func newTestLauncher(t *testing.T, agentPaths ...string) *Launcher {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.AgentPaths = agentPaths
	l := NewLauncher(cfg, logging.Discard())
	l.sandboxed = false
	return l
}

// writeScript drops an executable file into dir and returns its path.
func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFindAgent_ConfiguredPath(t *testing.T) {
	agent := writeScript(t, t.TempDir(), agentBinary, "#!/bin/sh\n")
	l := newTestLauncher(t, agent)

	got, err := l.FindAgent()
	if err != nil {
		t.Fatalf("FindAgent: %v", err)
	}
	if got != agent {
		t.Errorf("expected %s, got %s", agent, got)
	}
}

func TestFindAgent_SkipsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	if err := os.WriteFile(plain, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	agent := writeScript(t, dir, agentBinary, "#!/bin/sh\n")
	l := newTestLauncher(t, plain, agent)

	got, err := l.FindAgent()
	if err != nil {
		t.Fatalf("FindAgent: %v", err)
	}
	if got != agent {
		t.Errorf("expected the executable candidate %s, got %s", agent, got)
	}
}

func TestFindAgent_NotFound(t *testing.T) {
	l := newTestLauncher(t, filepath.Join(t.TempDir(), "missing"))

	if _, err := l.FindAgent(); !errors.Is(err, ErrDiscovery) {
		t.Errorf("expected ErrDiscovery, got %v", err)
	}
}

func TestBuildCommand(t *testing.T) {
	agent := writeScript(t, t.TempDir(), agentBinary, "#!/bin/sh\n")
	l := newTestLauncher(t, agent)

	lc, err := l.BuildCommand(24, 80, "/work", true)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	defer lc.Close()

	if lc.Path != agent {
		t.Errorf("expected path %s, got %s", agent, lc.Path)
	}
	joined := strings.Join(lc.Args, " ")
	for _, want := range []string{"--rows 24", "--cols 80", "--control-fd 3", "--cwd /work", "--verbose"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, lc.Args)
		}
	}

	if lc.ControlReaderFd() < 0 || lc.ControlWriterFd() < 0 {
		t.Error("control pipe not allocated")
	}
	if lc.ControlReaderFd() == lc.ControlWriterFd() {
		t.Error("control pipe ends share a descriptor")
	}
}

func TestBuildCommand_MinimalArgs(t *testing.T) {
	agent := writeScript(t, t.TempDir(), agentBinary, "#!/bin/sh\n")
	l := newTestLauncher(t, agent)

	lc, err := l.BuildCommand(24, 80, "", false)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	defer lc.Close()

	joined := strings.Join(lc.Args, " ")
	for _, unwanted := range []string{"--cwd", "--shell", "--verbose"} {
		if strings.Contains(joined, unwanted) {
			t.Errorf("unexpected optional arg %s: %v", unwanted, lc.Args)
		}
	}
}

func TestBuildCommand_ShellOverride(t *testing.T) {
	agent := writeScript(t, t.TempDir(), agentBinary, "#!/bin/sh\n")
	l := newTestLauncher(t, agent)
	l.cfg.Shell = "/bin/zsh"

	lc, err := l.BuildCommand(24, 80, "", false)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	defer lc.Close()

	if !strings.Contains(strings.Join(lc.Args, " "), "--shell /bin/zsh") {
		t.Errorf("shell override not forwarded: %v", lc.Args)
	}
}

func TestBuildCommand_FailureClosesPipes(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("descriptor accounting requires /proc")
	}
	l := newTestLauncher(t, filepath.Join(t.TempDir(), "missing"))

	before := openDescriptors(t)
	if _, err := l.BuildCommand(24, 80, "", false); !errors.Is(err, ErrDiscovery) {
		t.Fatalf("expected ErrDiscovery, got %v", err)
	}
	after := openDescriptors(t)

	if after != before {
		t.Errorf("descriptor leak: %d open before, %d after", before, after)
	}
}

func TestLaunchCommand_CloseIdempotent(t *testing.T) {
	agent := writeScript(t, t.TempDir(), agentBinary, "#!/bin/sh\n")
	l := newTestLauncher(t, agent)

	lc, err := l.BuildCommand(24, 80, "", false)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	lc.Close()
	lc.Close()

	if lc.ControlReaderFd() != -1 || lc.ControlWriterFd() != -1 {
		t.Error("descriptors still reported after Close")
	}
}

// maxExecArg is the kernel's cap on a single exec argument
// (MAX_ARG_STRLEN, 32 pages on Linux).
const maxExecArg = 128 * 1024

// newBootstrapCommand builds a sandboxed launch command for a fake
// agent with the given content, with a fake flatpak-spawn on PATH.
func newBootstrapCommand(t *testing.T, agentBytes []byte) *LaunchCommand {
	t.Helper()
	dir := t.TempDir()
	writeScript(t, dir, "flatpak-spawn", "#!/bin/sh\n")
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	agent := filepath.Join(dir, agentBinary)
	if err := os.WriteFile(agent, agentBytes, 0o755); err != nil {
		t.Fatalf("write agent: %v", err)
	}
	l := newTestLauncher(t, agent)
	l.sandboxed = true

	lc, err := l.BuildCommand(30, 100, "", false)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	t.Cleanup(lc.Close)
	return lc
}

func TestBuildCommand_Bootstrap(t *testing.T) {
	// A payload well past the single-argument cap, as a real compiled
	// agent binary is.
	agentBytes := bytes.Repeat([]byte{0x7f, 'E', 'L', 'F'}, 64*1024)
	lc := newBootstrapCommand(t, agentBytes)

	if filepath.Base(lc.Path) != "flatpak-spawn" {
		t.Errorf("expected flatpak-spawn, got %s", lc.Path)
	}

	joined := strings.Join(lc.Args, "\x00")
	for _, want := range []string{"--forward-fd=3", "--env-fd=4", "--host", "sh", "-c"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, lc.Args)
		}
	}

	// The encoded binary must never ride in argv: exec would fail with
	// E2BIG.
	for _, arg := range lc.Args {
		if len(arg) >= maxExecArg {
			t.Errorf("argument of %d bytes exceeds the kernel's per-argument limit", len(arg))
		}
	}

	// The staged descriptor carries one NUL-terminated VAR=value entry
	// decoding back to the agent binary bytes, readable from offset
	// zero the way the spawn helper will read it.
	if lc.payloadFile == nil {
		t.Fatal("no staged payload descriptor")
	}
	content, err := io.ReadAll(lc.payloadFile)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if len(content) == 0 || content[len(content)-1] != 0 {
		t.Fatalf("payload entry not NUL-terminated: %q...", content[:min(len(content), 40)])
	}
	entry := string(content[:len(content)-1])
	prefix := PayloadEnv + "="
	if !strings.HasPrefix(entry, prefix) {
		t.Fatalf("payload entry missing %s prefix", prefix)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(entry, prefix))
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if !bytes.Equal(decoded, agentBytes) {
		t.Error("payload does not round-trip the agent bytes")
	}

	// The agent argument vector rides behind the script.
	if !strings.Contains(joined, "--rows\x0030") || !strings.Contains(joined, "--cols\x00100") {
		t.Errorf("agent args not forwarded: %v", lc.Args)
	}
}

func TestLaunchCommand_CloseReleasesPayload(t *testing.T) {
	lc := newBootstrapCommand(t, []byte("#!/bin/sh\nexec true\n"))

	lc.Close()
	lc.Close()
	if lc.payloadFile != nil {
		t.Error("payload descriptor still held after Close")
	}
}

func TestBuildCommand_BootstrapWithoutSpawnHelper(t *testing.T) {
	// A PATH with no flatpak-spawn at all.
	t.Setenv("PATH", t.TempDir())

	agent := writeScript(t, t.TempDir(), agentBinary, "#!/bin/sh\n")
	l := newTestLauncher(t, agent)
	l.sandboxed = true

	if _, err := l.BuildCommand(24, 80, "", false); !errors.Is(err, ErrDiscovery) {
		t.Errorf("expected ErrDiscovery, got %v", err)
	}
}

// openDescriptors counts this process's open file descriptors.
func openDescriptors(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Fatalf("read /proc/self/fd: %v", err)
	}
	return len(entries)
}
