// Package emitter implements the design's C7 keystroke emission: handing
// recognized text to the configured Wayland virtual-keyboard utility
// (default wtype) as synthetic keystrokes, with inter-character and
// inter-word pacing per spec.md §4.7/§6.
//
// Grounded on the teacher's subprocess/test-double seam style: rather than
// calling exec.Command directly, an injectable command factory lets tests
// substitute a fake binary, the same substitution pattern the teacher uses
// for its paStream/opusEncoder interfaces.
package emitter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rhue-dev/voicedictated/internal/errs"
)

// DefaultBinary is the Wayland virtual-keyboard utility invoked to type
// text, matching spec.md's default.
const DefaultBinary = "wtype"

// cmdFactory builds the *exec.Cmd used to type text, abstracting over
// exec.CommandContext so tests can substitute a fake binary.
type cmdFactory func(ctx context.Context, text string) *exec.Cmd

// Emitter spawns the configured virtual-keyboard binary to type text,
// passing the text as the final command-line argument; nothing is written
// to the process's stdin. Type spawns one process when no pacing is
// configured, and one per word, separating space or character otherwise.
type Emitter struct {
	binary         string
	extraArgs      []string
	charDelay      time.Duration
	wordDelay      time.Duration
	newCmd         cmdFactory
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithBinary overrides the virtual-keyboard binary (default "wtype").
func WithBinary(path string) Option {
	return func(e *Emitter) { e.binary = path }
}

// WithExtraArgs appends extra CLI arguments before the text argument.
func WithExtraArgs(args ...string) Option {
	return func(e *Emitter) { e.extraArgs = args }
}

// WithCharDelay sets the delay between characters within a word (spawns one
// process per character when > 0; 0 disables inter-character pacing).
func WithCharDelay(d time.Duration) Option {
	return func(e *Emitter) { e.charDelay = d }
}

// WithWordDelay sets the delay between words.
func WithWordDelay(d time.Duration) Option {
	return func(e *Emitter) { e.wordDelay = d }
}

// New returns an Emitter invoking DefaultBinary with no pacing, overridden
// by opts.
func New(opts ...Option) *Emitter {
	e := &Emitter{binary: DefaultBinary}
	for _, o := range opts {
		o(e)
	}
	if e.newCmd == nil {
		e.newCmd = e.defaultCmd
	}
	return e
}

func (e *Emitter) defaultCmd(ctx context.Context, text string) *exec.Cmd {
	args := append(append([]string{}, e.extraArgs...), text)
	return exec.CommandContext(ctx, e.binary, args...)
}

// Type emits text as synthetic keystrokes. If no pacing is configured the
// whole string is sent in a single invocation; otherwise it is split on
// spaces, each separating space is sent in its own invocation followed by
// the word delay, and each word is sent either in one invocation (no char
// delay) or one invocation per character, each followed by the char delay.
func (e *Emitter) Type(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if e.charDelay <= 0 && e.wordDelay <= 0 {
		return e.runOnce(ctx, text)
	}

	words := strings.Split(text, " ")
	for i, w := range words {
		if i > 0 {
			if err := e.runOnce(ctx, " "); err != nil {
				return err
			}
			if e.wordDelay > 0 {
				if err := sleep(ctx, e.wordDelay); err != nil {
					return err
				}
			}
		}
		if e.charDelay <= 0 {
			if err := e.runOnce(ctx, w); err != nil {
				return err
			}
			continue
		}
		for _, r := range w {
			if err := e.runOnce(ctx, string(r)); err != nil {
				return err
			}
			if err := sleep(ctx, e.charDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Emitter) runOnce(ctx context.Context, text string) error {
	cmd := e.newCmd(ctx, text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errs.New(errs.KindEmitterUnavailable, "emitter.type",
			fmt.Errorf("%s: %w: %s", e.binary, err, strings.TrimSpace(stderr.String())))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// runeCount reports the number of Unicode code points in s.
func runeCount(s string) int {
	return utf8.RuneCountInString(s)
}
