package terminal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sshpilot/termbridge/pkg/interfaces"
)

// ErrSpawn indicates the shell process could not be started.
var ErrSpawn = errors.New("shell spawn failed")

const (
	defaultShell = "/bin/bash"
	defaultTerm  = "xterm-256color"
)

// DiscoverShell resolves the user's preferred shell: the SHELL
// environment override first, then the passwd database for the invoking
// user, then /bin/bash. A candidate is only accepted if it is an
// executable regular file.
func DiscoverShell(log interfaces.Logger) string {
	if shell := os.Getenv("SHELL"); shell != "" {
		if isExecutableFile(shell) {
			log.Debugf("found shell from SHELL env: %s", shell)
			return shell
		}
		log.Debugf("ignoring unusable SHELL env value: %s", shell)
	}

	if shell := shellFromPasswd(log); shell != "" {
		return shell
	}

	log.Warnf("could not determine user shell, falling back to %s", defaultShell)
	return defaultShell
}

// shellFromPasswd looks the invoking user up in the passwd database.
// getent consults the same name service switch the login process does,
// which matters on LDAP/NIS systems where /etc/passwd alone is not
// authoritative.
func shellFromPasswd(log interfaces.Logger) string {
	username := os.Getenv("USER")
	if username == "" {
		u, err := user.Current()
		if err != nil {
			log.Debugf("failed to resolve current user: %v", err)
			return ""
		}
		username = u.Username
	}

	out, err := exec.Command("getent", "passwd", username).Output()
	if err != nil {
		log.Debugf("getent passwd %s failed: %v", username, err)
		return ""
	}

	// username:x:uid:gid:gecos:home:shell
	fields := strings.Split(strings.TrimSpace(string(out)), ":")
	if len(fields) < 7 {
		return ""
	}
	shell := fields[6]
	if shell == "" || !isExecutableFile(shell) {
		return ""
	}
	log.Debugf("found shell from passwd database: %s", shell)
	return shell
}

// isExecutableFile reports whether path is a regular file with an
// execute bit set.
func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode()&0111 != 0
}

// Shell is the login shell running attached to the PTY slave.
type Shell struct {
	path string
	cmd  *exec.Cmd
	pid  int
	log  interfaces.Logger
}

// SpawnShell starts the shell as the leader of a new session with the
// PTY slave as its controlling terminal, stdio bound to the slave, in
// the requested working directory. On return the parent no longer
// holds the slave descriptor; the shell keeps its inherited copy.
func SpawnShell(p *Pty, shellPath, cwd, termName string, log interfaces.Logger) (*Shell, error) {
	if p == nil || p.Slave() == nil {
		return nil, fmt.Errorf("%w: pty not created", ErrSpawn)
	}

	if cwd == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cwd = home
		} else {
			cwd = "/"
		}
	}

	cmd := exec.Command(shellPath)
	// Login shell convention: argv[0] starts with a dash.
	cmd.Args = []string{"-" + filepath.Base(shellPath)}
	cmd.Dir = cwd
	cmd.Env = shellEnv(shellPath, termName)
	cmd.Stdin = p.Slave()
	cmd.Stdout = p.Slave()
	cmd.Stderr = p.Slave()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		// The child becomes a session leader and claims the slave
		// (its fd 0) as controlling terminal via TIOCSCTTY. This is
		// the step that fixes job control; without it the shell
		// reports "no job control in this shell" and cannot manage
		// foreground process groups.
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}

	if err := cmd.Start(); err != nil {
		// The parent's slave copy is useless without a shell; the
		// caller still owns the master and closes it during cleanup.
		p.ReleaseSlave()
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	p.ReleaseSlave()
	p.AttachProcessGroup(cmd.Process.Pid)

	log.Infof("spawned shell %s (pid %d)", shellPath, cmd.Process.Pid)
	return &Shell{path: shellPath, cmd: cmd, pid: cmd.Process.Pid, log: log}, nil
}

// shellEnv builds the child environment: TERM defaulted when unset and
// SHELL pointing at the spawned shell.
func shellEnv(shellPath, termName string) []string {
	env := os.Environ()
	if termName == "" {
		termName = defaultTerm
	}

	hasTerm := false
	for i, kv := range env {
		switch {
		case strings.HasPrefix(kv, "SHELL="):
			env[i] = "SHELL=" + shellPath
		case strings.HasPrefix(kv, "TERM="):
			hasTerm = true
		}
	}
	if !hasTerm {
		env = append(env, "TERM="+termName)
	}
	if !containsPrefix(env, "SHELL=") {
		env = append(env, "SHELL="+shellPath)
	}
	return env
}

func containsPrefix(env []string, prefix string) bool {
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}
	return false
}

// Pid returns the shell's process id.
func (s *Shell) Pid() int {
	return s.pid
}

// Path returns the shell executable path.
func (s *Shell) Path() string {
	return s.path
}

// Terminate hangs the shell's entire process group up. SIGHUP first
// because interactive shells ignore SIGTERM; SIGTERM follows for any
// foreground job that handles it more gracefully. Best effort: the
// shell may already be gone.
func (s *Shell) Terminate() {
	if s == nil || s.pid <= 0 {
		return
	}
	for _, sig := range []unix.Signal{unix.SIGHUP, unix.SIGTERM} {
		if err := unix.Kill(-s.pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			s.log.Debugf("failed to signal shell process group %d with %v: %v", s.pid, sig, err)
		}
	}
}

// Wait reaps the shell process.
func (s *Shell) Wait() error {
	if s == nil || s.cmd == nil {
		return nil
	}
	return s.cmd.Wait()
}
