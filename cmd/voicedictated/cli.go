package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rhue-dev/voicedictated/internal/controlsock"
	"github.com/rhue-dev/voicedictated/internal/daemon"
)

// exit codes, per spec.md §6.
const (
	exitSuccess = 0
	exitError   = 1
	exitMisuse  = 2
	exitReload  = 64
)

// RunCLI dispatches a client-side subcommand (start/stop/confirm/toggle/
// status) against the running daemon's control socket. Returns the process
// exit code. Grounded on rustyguts-bken/server/cli.go's RunCLI(args []string)
// bool switch-over-args[0] idiom, adapted to return an exit code instead of
// a handled-or-not bool since every subcommand here is always "handled" by
// the caller (main only reaches RunCLI after recognizing the verb).
func RunCLI(subcmd string, timeout time.Duration) int {
	verb, ok := verbFor(subcmd)
	if !ok {
		fmt.Fprintf(os.Stderr, "voicedictated: unknown command %q\n", subcmd)
		return exitMisuse
	}

	dir := daemon.SocketDir()
	paths := daemon.PathsIn(dir)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reply, err := sendVerbWithTimeout(ctx, paths.Control, verb)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicedictated: %v\n", err)
		return exitError
	}
	fmt.Println(reply)
	return exitSuccess
}

func verbFor(subcmd string) (controlsock.Verb, bool) {
	switch subcmd {
	case "start":
		return controlsock.VerbStart, true
	case "stop":
		return controlsock.VerbStop, true
	case "confirm":
		return controlsock.VerbConfirm, true
	case "toggle":
		return controlsock.VerbToggle, true
	case "status":
		return controlsock.VerbStatus, true
	default:
		return "", false
	}
}

// sendVerbWithTimeout wraps controlsock.SendVerb (which is synchronous) so a
// hung daemon cannot wedge the CLI process indefinitely.
func sendVerbWithTimeout(ctx context.Context, path string, verb controlsock.Verb) (string, error) {
	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := controlsock.SendVerb(path, verb)
		done <- result{reply, err}
	}()
	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("timed out waiting for daemon reply: %w", ctx.Err())
	}
}
