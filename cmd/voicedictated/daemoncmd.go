package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rhue-dev/voicedictated/internal/config"
	"github.com/rhue-dev/voicedictated/internal/daemon"
)

// runDaemon parses the daemon subcommand's own flags and runs the daemon in
// the foreground until interrupted. Flag parsing via spf13/pflag, grounded
// on samoyed's kissutil.go POSIX-flag style (SPEC_FULL.md's DOMAIN STACK
// table assigns pflag to exactly this subcommand).
func runDaemon(args []string) int {
	fs := pflag.NewFlagSet("daemon", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.toml (default: $XDG_CONFIG_HOME/voice-dictation/config.toml)")
	foreground := fs.Bool("foreground", true, "run in the foreground (the only mode this build supports)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "voicedictated daemon: %v\n", err)
		return exitMisuse
	}
	_ = foreground // no background/fork mode; kept as a documented flag for service-manager compatibility

	path := *configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			fmt.Fprintf(os.Stderr, "voicedictated daemon: resolve config path: %v\n", err)
			return exitError
		}
		path = p
	}

	snap, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicedictated daemon: %v\n", err)
		return exitError
	}

	d, err := daemon.New(snap, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicedictated daemon: %v\n", err)
		return exitError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	restart := make(chan struct{}, 1)
	go watchSignals(sigCh, d, cancel, restart)

	runErr := d.Run(ctx)
	select {
	case <-restart:
		return exitReload
	default:
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "voicedictated daemon: %v\n", runErr)
		return exitError
	}
	return exitSuccess
}

// watchSignals handles SIGINT/SIGTERM as graceful shutdown and SIGHUP as a
// config reload. A reload that changes none of the restart fields is kept
// in place via the Store's atomic swap (components already built by
// daemon.New keep their construction-time values); fields that require
// reopening hardware or model files (audio device, sample rate, model
// paths) cannot be swapped under a running capture/recognizer, so a reload
// touching any of those asks the service manager to restart the whole
// process instead, by exiting 64 (spec.md §6).
func watchSignals(sigCh <-chan os.Signal, d *daemon.Daemon, cancel context.CancelFunc, restart chan<- struct{}) {
	log := slog.Default().With("component", "cli")
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			before := d.Snapshot()
			if err := d.Reload(); err != nil {
				log.Warn("config reload failed, keeping previous snapshot", "err", err)
				continue
			}
			after := d.Snapshot()
			if requiresRestart(before, after) {
				log.Warn("config reload changed a field that requires a full restart")
				restart <- struct{}{}
				cancel()
				return
			}
			log.Info("config reloaded")
		default:
			cancel()
			return
		}
	}
}

func requiresRestart(before, after config.Snapshot) bool {
	return before.AudioDevice != after.AudioDevice ||
		before.SampleRate != after.SampleRate ||
		before.PreviewModel != after.PreviewModel ||
		before.PreviewModelCustom != after.PreviewModelCustom ||
		before.FinalModel != after.FinalModel ||
		before.FinalModelCustom != after.FinalModelCustom
}
