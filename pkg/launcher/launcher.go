// Package launcher is the caller-side bridge: it locates the agent
// binary, allocates the control pipe, builds the launch command
// (including the sandbox-crossing bootstrap) and supervises agent
// startup.
package launcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sshpilot/termbridge/pkg/config"
	"github.com/sshpilot/termbridge/pkg/interfaces"
)

// ErrDiscovery indicates no usable agent artifact (or host interpreter)
// could be located.
var ErrDiscovery = errors.New("agent not found")

// ErrAllocation indicates the control pipe could not be created.
var ErrAllocation = errors.New("control pipe allocation failed")

// agentBinary is the agent executable name.
const agentBinary = "termbridge-agent"

// ControlChildFd is the descriptor number the control pipe reader
// occupies in the spawned child: the first inherited extra file after
// stdio.
const ControlChildFd = 3

// agentInstallPaths are the known install locations, in search order.
var agentInstallPaths = []string{
	"/app/bin/" + agentBinary,
	"/usr/local/bin/" + agentBinary,
	"/usr/bin/" + agentBinary,
}

// Launcher starts the agent for the embedding terminal widget.
type Launcher struct {
	cfg *config.Config
	log interfaces.Logger

	// sandboxed is true when the caller runs inside a filesystem
	// namespace the host cannot see, so the agent must cross the
	// boundary as an encoded payload.
	sandboxed bool
}

// NewLauncher creates a launcher for the current execution context.
func NewLauncher(cfg *config.Config, log interfaces.Logger) *Launcher {
	return &Launcher{
		cfg:       cfg,
		log:       log,
		sandboxed: inSandbox(),
	}
}

// inSandbox reports whether the caller runs inside a Flatpak sandbox.
func inSandbox() bool {
	_, err := os.Stat("/.flatpak-info")
	return err == nil
}

// FindAgent resolves the agent binary: configured paths first, then the
// known install locations, then next to the caller's own executable.
// The first existing executable regular file wins.
func (l *Launcher) FindAgent() (string, error) {
	candidates := append([]string{}, l.cfg.AgentPaths...)
	candidates = append(candidates, agentInstallPaths...)

	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), agentBinary))
	} else {
		l.log.Debugf("could not determine own executable path: %v", err)
	}

	for _, path := range candidates {
		if isExecutableFile(path) {
			l.log.Debugf("found agent at: %s", path)
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: searched %d locations", ErrDiscovery, len(candidates))
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

// LaunchCommand is everything needed to start the agent: the command
// vector, the two ends of the freshly allocated control pipe and, for
// sandboxed launches, the staged payload descriptor. The bridge owns
// every descriptor until handoff; every failure path must release all
// of them, and Close does exactly that.
type LaunchCommand struct {
	Path string
	Args []string

	controlReader *os.File
	controlWriter *os.File
	payloadFile   *os.File
}

// ControlReaderFd returns the parent-side descriptor number of the
// reader end (the child sees it as ControlChildFd).
func (c *LaunchCommand) ControlReaderFd() int {
	if c.controlReader == nil {
		return -1
	}
	return int(c.controlReader.Fd())
}

// ControlWriterFd returns the descriptor number of the writer end.
func (c *LaunchCommand) ControlWriterFd() int {
	if c.controlWriter == nil {
		return -1
	}
	return int(c.controlWriter.Fd())
}

// releaseReader closes the parent's reader end after a successful
// handoff; the child keeps its inherited copy.
func (c *LaunchCommand) releaseReader() {
	if c.controlReader != nil {
		_ = c.controlReader.Close()
		c.controlReader = nil
	}
}

// releasePayload closes the parent's payload descriptor after a
// successful handoff; the child keeps its inherited copy.
func (c *LaunchCommand) releasePayload() {
	if c.payloadFile != nil {
		_ = c.payloadFile.Close()
		c.payloadFile = nil
	}
}

// detachWriter transfers ownership of the writer end to the caller.
func (c *LaunchCommand) detachWriter() *os.File {
	w := c.controlWriter
	c.controlWriter = nil
	return w
}

// Close releases whichever descriptors are still owned. Safe to call
// more than once.
func (c *LaunchCommand) Close() {
	c.releaseReader()
	c.releasePayload()
	if c.controlWriter != nil {
		_ = c.controlWriter.Close()
		c.controlWriter = nil
	}
}

// BuildCommand allocates the control pipe and builds the agent command
// vector. The reader end is handed to the child as an inherited
// descriptor (Go descriptors are close-on-exec by default; passing the
// file through the spawn call is what makes it survive the exec). On
// any failure both pipe ends are closed before returning.
func (l *Launcher) BuildCommand(rows, cols int, cwd string, verbose bool) (*LaunchCommand, error) {
	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	args := []string{
		"--rows", strconv.Itoa(rows),
		"--cols", strconv.Itoa(cols),
		"--control-fd", strconv.Itoa(ControlChildFd),
	}
	if cwd != "" {
		args = append(args, "--cwd", cwd)
	}
	if l.cfg.Shell != "" {
		args = append(args, "--shell", l.cfg.Shell)
	}
	if verbose {
		args = append(args, "--verbose")
	}

	if l.sandboxed {
		path, fullArgs, payload, err := l.buildBootstrapCommand(args)
		if err != nil {
			_ = reader.Close()
			_ = writer.Close()
			return nil, err
		}
		return &LaunchCommand{
			Path:          path,
			Args:          fullArgs,
			controlReader: reader,
			controlWriter: writer,
			payloadFile:   payload,
		}, nil
	}

	agentPath, err := l.FindAgent()
	if err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, err
	}

	return &LaunchCommand{
		Path:          agentPath,
		Args:          args,
		controlReader: reader,
		controlWriter: writer,
	}, nil
}
