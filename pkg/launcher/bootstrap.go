package launcher

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// PayloadEnv carries the base64-encoded agent binary across the
// sandbox boundary. Host paths like /app/bin do not exist outside the
// sandbox, so the artifact itself travels in the environment.
const PayloadEnv = "TERMBRIDGE_AGENT"

// PayloadChildFd is the descriptor number the staged payload occupies
// in the spawned child: the second inherited extra file after the
// control pipe reader.
const PayloadChildFd = 4

// bootstrapScript is the one-line(ish) host-side bootstrap: decode the
// payload into a private runtime directory, run it with the original
// argument vector, clean up when the session ends. The decoded copy
// lives under XDG_RUNTIME_DIR (tmpfs on desktop Linux) so it never
// touches persistent storage.
const bootstrapScript = `set -e
dir=$(mktemp -d "${XDG_RUNTIME_DIR:-/tmp}/termbridge.XXXXXX")
trap 'rm -rf "$dir"' EXIT
printf %s "$` + PayloadEnv + `" | base64 -d >"$dir/agent"
chmod 700 "$dir/agent"
"$dir/agent" "$@"
`

// buildBootstrapCommand synthesizes the sandbox-crossing launch: the
// agent binary is read from the sandbox filesystem, base64-encoded and
// staged on an inherited descriptor, and a host shell decodes and runs
// it. The kernel caps a single exec argument at 128 KiB while the
// encoded binary is megabytes, so the payload cannot ride in argv;
// flatpak-spawn reads it from the descriptor (--env-fd) and exports it
// into the host shell's environment. The control pipe reader is
// forwarded by number so the agent's --control-fd keeps pointing at
// the right descriptor on the host side.
func (l *Launcher) buildBootstrapCommand(agentArgs []string) (string, []string, *os.File, error) {
	spawnPath, err := exec.LookPath("flatpak-spawn")
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: flatpak-spawn not available", ErrDiscovery)
	}

	agentPath, err := l.FindAgent()
	if err != nil {
		return "", nil, nil, err
	}

	data, err := os.ReadFile(agentPath)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to read agent payload from %s: %w", agentPath, err)
	}

	payload, err := stagePayload(data)
	if err != nil {
		return "", nil, nil, err
	}
	l.log.Debugf("staged agent payload: %d bytes from %s", len(data), agentPath)

	args := []string{
		fmt.Sprintf("--forward-fd=%d", ControlChildFd),
		fmt.Sprintf("--env-fd=%d", PayloadChildFd),
		"--host",
		"sh", "-c", bootstrapScript, agentBinary,
	}
	args = append(args, agentArgs...)

	return spawnPath, args, payload, nil
}

// stagePayload writes the encoded agent into an unlinked temp file in
// the --env-fd wire format (NUL-terminated VAR=value entries), rewound
// so the child reads it from the start.
func stagePayload(data []byte) (*os.File, error) {
	f, err := os.CreateTemp("", "termbridge-payload-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	_ = os.Remove(f.Name())

	entry := PayloadEnv + "=" + base64.StdEncoding.EncodeToString(data)
	if _, err := f.WriteString(entry + "\x00"); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stage agent payload: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stage agent payload: %w", err)
	}
	return f, nil
}
