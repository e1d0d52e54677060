// termbridge-launch is a debug harness for the launch bridge: it
// starts the agent the same way the embedding terminal widget does,
// then connects it to the current terminal. Handy for verifying job
// control and resize behavior without a GUI.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sshpilot/termbridge/pkg/config"
	"github.com/sshpilot/termbridge/pkg/launcher"
	"github.com/sshpilot/termbridge/pkg/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cwd     string
		verbose bool
	)

	flag.StringVar(&cwd, "cwd", "", "Working directory for the shell")
	flag.BoolVar(&verbose, "verbose", false, "Verbose logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if verbose {
		cfg.Verbose = true
	}

	log := logging.New(os.Stderr, "termbridge-launch", cfg.Verbose)

	rows, cols := cfg.Rows, cfg.Cols
	if size, err := pty.GetsizeFull(os.Stdin); err == nil {
		rows, cols = int(size.Rows), int(size.Cols)
	}

	l := launcher.NewLauncher(cfg, log)
	proc, err := l.Launch(rows, cols, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error launching agent: %v\n", err)
		return 1
	}

	if !proc.WaitForReady(cfg.ReadyTimeout) {
		proc.Terminate()
		fmt.Fprintln(os.Stderr, "Agent did not become ready")
		return 1
	}

	// Pass every byte through untouched while the session runs.
	var restore func()
	if state, err := term.MakeRaw(int(os.Stdin.Fd())); err == nil {
		restore = func() { _ = term.Restore(int(os.Stdin.Fd()), state) }
		defer restore()
	}

	// Track window size changes of the hosting terminal.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGWINCH)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			size, err := pty.GetsizeFull(os.Stdin)
			if err != nil {
				continue
			}
			if err := proc.Resize(int(size.Rows), int(size.Cols)); err != nil {
				log.Debugf("resize forward failed: %v", err)
			}
		}
	}()

	errChan := make(chan error, 2)
	go func() {
		_, err := io.Copy(proc.Stdin(), os.Stdin)
		errChan <- err
	}()
	go func() {
		_, err := io.Copy(os.Stdout, proc.Stdout())
		errChan <- err
	}()

	select {
	case <-proc.Done():
	case err := <-errChan:
		if err != nil {
			log.Debugf("relay ended: %v", err)
		}
	}

	if restore != nil {
		restore()
	}
	proc.Terminate()
	return 0
}
