// termbridge-agent is the host-side PTY helper: it allocates a pseudo
// terminal with working job control, spawns the user's login shell on
// it and relays bytes between the shell and its own standard streams.
// The embedding terminal widget talks to it over stdin/stdout, receives
// startup status on stderr and sends resize messages on an inherited
// control descriptor.
package main

import (
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sshpilot/termbridge/pkg/agent"
	"github.com/sshpilot/termbridge/pkg/logging"
	"github.com/sshpilot/termbridge/pkg/status"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		rows      int
		cols      int
		cwd       string
		shell     string
		verbose   bool
		controlFd int
	)

	flag.IntVar(&rows, "rows", 24, "Terminal rows")
	flag.IntVar(&cols, "cols", 80, "Terminal columns")
	flag.StringVar(&cwd, "cwd", "", "Working directory (defaults to the user's home)")
	flag.StringVar(&shell, "shell", "", "Shell to spawn (defaults to discovery)")
	flag.BoolVar(&verbose, "verbose", false, "Verbose logging")
	flag.IntVar(&controlFd, "control-fd", -1, "Control channel file descriptor")
	flag.Parse()

	log := logging.New(os.Stderr, "termbridge-agent", verbose)

	// Status messages share stderr with diagnostics. When stderr is an
	// interactive terminal (the agent was started by hand) emitting
	// JSON there would land in the user's session, so the reporter is
	// constructed disabled; launched through the bridge stderr is a
	// pipe and status flows.
	statusEnabled := !term.IsTerminal(int(os.Stderr.Fd()))
	reporter := status.NewReporter(os.Stderr, statusEnabled, log)

	a := agent.New(agent.Options{
		Rows:      rows,
		Cols:      cols,
		Cwd:       cwd,
		Shell:     shell,
		ControlFd: controlFd,
		OnReady: func() {
			// Past this point any stray diagnostic write could only
			// confuse the caller; keep the channel clean unless the
			// user asked for diagnostics.
			if !verbose {
				log.Silence()
			}
		},
	}, reporter, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigChan
		log.Debugf("received %v, shutting down", sig)
		a.Shutdown()
	}()

	if err := a.Run(); err != nil {
		return 1
	}
	return 0
}
