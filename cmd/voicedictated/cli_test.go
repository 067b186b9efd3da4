package main

import (
	"testing"

	"github.com/rhue-dev/voicedictated/internal/config"
	"github.com/rhue-dev/voicedictated/internal/controlsock"
)

func baseSnapshot() config.Snapshot {
	return config.Default()
}

func TestVerbForRecognizesAllFiveVerbs(t *testing.T) {
	cases := map[string]controlsock.Verb{
		"start":   controlsock.VerbStart,
		"stop":    controlsock.VerbStop,
		"confirm": controlsock.VerbConfirm,
		"toggle":  controlsock.VerbToggle,
		"status":  controlsock.VerbStatus,
	}
	for subcmd, want := range cases {
		got, ok := verbFor(subcmd)
		if !ok {
			t.Fatalf("verbFor(%q): expected ok", subcmd)
		}
		if got != want {
			t.Fatalf("verbFor(%q) = %q, want %q", subcmd, got, want)
		}
	}
}

func TestVerbForRejectsUnknownSubcommand(t *testing.T) {
	if _, ok := verbFor("reboot"); ok {
		t.Fatalf("expected verbFor to reject an unknown subcommand")
	}
}

func TestRunDispatchesUnknownCommandAsMisuse(t *testing.T) {
	if got := run([]string{"frobnicate"}); got != exitMisuse {
		t.Fatalf("expected exitMisuse for unknown command, got %d", got)
	}
}

func TestRunWithNoArgsIsMisuse(t *testing.T) {
	if got := run(nil); got != exitMisuse {
		t.Fatalf("expected exitMisuse for no args, got %d", got)
	}
}

func TestRunHelpIsSuccess(t *testing.T) {
	if got := run([]string{"help"}); got != exitSuccess {
		t.Fatalf("expected exitSuccess for help, got %d", got)
	}
}

func TestRequiresRestartDetectsModelPathChange(t *testing.T) {
	before := baseSnapshot()
	after := baseSnapshot()
	after.FinalModelCustom = "/models/new.bin"
	if !requiresRestart(before, after) {
		t.Fatalf("expected requiresRestart to report true for a changed model path")
	}
}

func TestRequiresRestartFalseForPostProcessingToggle(t *testing.T) {
	before := baseSnapshot()
	after := baseSnapshot()
	after.AcronymFolding = !before.AcronymFolding
	if requiresRestart(before, after) {
		t.Fatalf("expected requiresRestart to report false for a post-processing toggle")
	}
}
