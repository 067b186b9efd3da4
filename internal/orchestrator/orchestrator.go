// Package orchestrator implements the design's C9 session orchestrator: the
// single authoritative state machine for a dictation session
// (spec.md §4.9).
//
// Grounded on glyphoxa's SessionManager
// (internal/app/session_manager.go) for its lifecycle/closers idiom (one
// owner goroutine, ordered teardown, slog for state transitions) — adapted
// from "one voice-chat session with NPC agents" to "one dictation session
// driving C4/C5/C6/C7", and from a mutex-guarded struct to a single
// goroutine draining one buffered event channel per spec.md's concurrency
// model ("orchestrator runs single-threaded over a command/event queue").
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/rhue-dev/voicedictated/internal/audio"
	"github.com/rhue-dev/voicedictated/internal/controlsock"
	"github.com/rhue-dev/voicedictated/internal/emitter"
	"github.com/rhue-dev/voicedictated/internal/postprocess"
	"github.com/rhue-dev/voicedictated/internal/recognizer"
	"github.com/rhue-dev/voicedictated/internal/recording"
	"github.com/rhue-dev/voicedictated/internal/vad"
)

// State is one of the five session states from spec.md §4.9.
type State string

const (
	StateIdle         State = "idle"
	StatePreListening State = "prelistening"
	StateListening    State = "listening"
	StateProcessing   State = "processing"
	StateClosing      State = "closing"
)

const (
	// DefaultPreListeningMs is the max time spent in PreListening before
	// Listening begins regardless of VAD (spec.md: "default 150 ms").
	DefaultPreListeningMs = 150 * time.Millisecond
	// DefaultCloseAnimationMs is the time spent in Closing before returning
	// to Idle (spec.md: "default 500 ms").
	DefaultCloseAnimationMs = 500 * time.Millisecond
)

// Snapshot is published to C10's state socket on every transition and
// preview partial.
type Snapshot struct {
	Mode        State
	PreListening bool
	PartialText string
	FinalText   string
}

// Deps bundles the orchestrator's collaborators. Live/Batch are interfaces
// so tests substitute stub engines; Post and Emit are concrete types, and
// tests point Emit at a stand-in binary via emitter.WithBinary.
type Deps struct {
	Live  recognizer.Live
	Batch recognizer.Batch
	Post  *postprocess.Pipeline
	Emit  *emitter.Emitter

	// Recorder, if non-nil, Opus-encodes every confirmed session's captured
	// window to disk for diagnostics (config `daemon.debug_record`,
	// SPEC_FULL's supplemented session-diagnostics-recording feature). Never
	// affects the recognizer or keystroke path: failures are logged only.
	Recorder *recording.Recorder

	// OnState is called with every published Snapshot (wired to C10's state
	// broadcaster by the daemon).
	OnState func(Snapshot)

	PreListeningMs   time.Duration
	CloseAnimationMs time.Duration
}

type eventKind int

const (
	evCommand eventKind = iota
	evVadSpeechStart
	evVadSpeechEnd
	evFrame
	evPreListenTimer
	evCloseTimer
	evProcessingDone
)

type event struct {
	kind    eventKind
	verb    controlsock.Verb
	replyCh chan string
	window  []audio.Frame
	frame   audio.Frame
	text    string
	errText string
	genAt   int // generation counter, to ignore stale timers/completions from a prior session
}

// Orchestrator runs the single event-loop goroutine that owns all session
// state (spec.md: "the only writer of session state").
type Orchestrator struct {
	deps   Deps
	log    *slog.Logger
	events chan event

	state            State
	preListening     bool
	buffered         []audio.Frame
	partialText      string
	finalText        string
	generation       int
	sessionStartedAt time.Time
	lastErr          string
}

// New returns an Orchestrator in State Idle. Call Run in its own goroutine
// before feeding any events.
func New(deps Deps) *Orchestrator {
	if deps.PreListeningMs <= 0 {
		deps.PreListeningMs = DefaultPreListeningMs
	}
	if deps.CloseAnimationMs <= 0 {
		deps.CloseAnimationMs = DefaultCloseAnimationMs
	}
	return &Orchestrator{
		deps:   deps,
		log:    slog.Default().With("component", "orchestrator"),
		events: make(chan event, 256),
		state:  StateIdle,
	}
}

// HandleVerb implements controlsock.Handler: it enqueues the verb as a
// command event and waits for the event loop to produce a reply.
func (o *Orchestrator) HandleVerb(ctx context.Context, verb controlsock.Verb) (string, error) {
	reply := make(chan string, 1)
	select {
	case o.events <- event{kind: evCommand, verb: verb, replyCh: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// FeedVadEvent forwards a VAD transition into the event queue.
func (o *Orchestrator) FeedVadEvent(ctx context.Context, ev vad.Event) {
	kind := evVadSpeechStart
	if ev.Type == vad.EventSpeechEnd {
		kind = evVadSpeechEnd
	}
	select {
	case o.events <- event{kind: kind, window: ev.Window}:
	case <-ctx.Done():
	}
}

// FeedFrame forwards one captured audio frame. Frames are only acted on
// while Listening; the event loop discards them otherwise.
func (o *Orchestrator) FeedFrame(ctx context.Context, f audio.Frame) {
	select {
	case o.events <- event{kind: evFrame, frame: f}:
	case <-ctx.Done():
	default:
		// The queue is saturated; dropping a frame here only costs one
		// preview update, never session-state correctness.
	}
}

// Run drains the event queue until ctx is cancelled. It is the only
// goroutine that ever mutates Orchestrator state.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.events:
			o.handle(ctx, ev)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evCommand:
		ev.replyCh <- o.handleCommand(ctx, ev.verb)
	case evVadSpeechStart:
		o.handleSpeechStart(ev.window)
	case evVadSpeechEnd:
		o.handleSpeechEnd(ev.window)
	case evFrame:
		o.handleFrame(ev.frame)
	case evPreListenTimer:
		if o.state == StatePreListening {
			o.enterListening()
		}
	case evCloseTimer:
		if o.state == StateClosing && ev.genAt == o.generation {
			o.enterIdle()
		}
	case evProcessingDone:
		if o.state == StateProcessing && ev.genAt == o.generation {
			o.finalText = ev.text
			o.lastErr = ev.errText
			// C7 runs here, synchronously on the orchestrator's own task, and
			// blocks this loop until it returns (spec.md §5: "the keystroke
			// emitter is called from C9's task and runs to completion before
			// any further session-advancing event is processed"). This is
			// also what keeps two sessions' keystrokes from ever
			// interleaving: Emit.Type is never invoked from anywhere but
			// here, so only one call can ever be in flight.
			if o.finalText != "" && o.deps.Emit != nil {
				if err := o.deps.Emit.Type(ctx, o.finalText); err != nil {
					o.log.Warn("keystroke emitter failed", "err", err)
					o.lastErr = err.Error()
				}
			}
			o.enterClosing(ctx)
		}
	}
}

func (o *Orchestrator) handleCommand(ctx context.Context, verb controlsock.Verb) string {
	switch verb {
	case controlsock.VerbStart:
		return o.cmdStart(ctx)
	case controlsock.VerbConfirm:
		return o.cmdConfirm(ctx)
	case controlsock.VerbStop:
		return o.cmdStop(ctx)
	case controlsock.VerbToggle:
		if o.state == StateIdle {
			return o.cmdStart(ctx)
		}
		return o.cmdConfirm(ctx)
	case controlsock.VerbStatus:
		return string(o.state)
	case controlsock.VerbStatusVerbose:
		return o.VerboseStatus()
	default:
		return "error: unknown"
	}
}

// cmdStart handles spec.md's "Idle -> PreListening on start" and the
// "second start during an active session is ignored" tie-break.
func (o *Orchestrator) cmdStart(ctx context.Context) string {
	if o.state != StateIdle {
		return string(o.state)
	}
	o.generation++
	o.state = StatePreListening
	o.preListening = true
	o.buffered = nil
	o.partialText = ""
	o.finalText = ""
	o.lastErr = ""
	o.sessionStartedAt = time.Now()
	if o.deps.Live != nil {
		_ = o.deps.Live.Reset()
	}
	o.publish()

	gen := o.generation
	go o.fireAfter(ctx, o.deps.PreListeningMs, evPreListenTimer, gen)
	return string(o.state)
}

// cmdConfirm handles "Listening -> Processing on confirm" plus the
// tie-break for confirm arriving before any speech was detected (still run
// C5 on whatever was buffered since start; skip C5/C7 if nothing buffered).
func (o *Orchestrator) cmdConfirm(ctx context.Context) string {
	if o.state != StateListening && o.state != StatePreListening {
		return string(o.state)
	}
	window := o.buffered
	lastPartial := o.partialText
	o.state = StateProcessing
	o.publish()

	go o.runFinal(ctx, window, lastPartial, o.generation)
	return string(o.state)
}

// cmdStop handles "Listening/Processing -> Closing on stop (cancel: do not
// emit)". enterClosing bumps the generation counter, so if C5 is still
// running in a runFinal worker goroutine when stop arrives, its eventual
// evProcessingDone carries the old generation and handle's evProcessingDone
// case (the only place C7 is ever invoked) discards it without typing
// anything.
func (o *Orchestrator) cmdStop(ctx context.Context) string {
	if o.state == StateIdle || o.state == StateClosing {
		return string(o.state)
	}
	o.enterClosing(ctx)
	return string(o.state)
}

func (o *Orchestrator) handleSpeechStart(window []audio.Frame) {
	if o.state != StatePreListening && o.state != StateListening {
		return
	}
	o.buffered = append(o.buffered, window...)
	if o.state == StatePreListening {
		o.enterListening()
	}
}

func (o *Orchestrator) handleSpeechEnd(window []audio.Frame) {
	if o.state != StateListening {
		return
	}
	o.buffered = append(o.buffered, window...)
}

func (o *Orchestrator) handleFrame(f audio.Frame) {
	if o.state != StateListening || o.deps.Live == nil {
		return
	}
	o.buffered = append(o.buffered, f)
	tr, ok := o.deps.Live.Accept(f.Samples[:])
	if !ok {
		return
	}
	o.partialText = tr.Text
	o.publish()
}

func (o *Orchestrator) enterListening() {
	o.state = StateListening
	o.preListening = false
	o.publish()
}

func (o *Orchestrator) enterClosing(ctx context.Context) {
	o.generation++
	gen := o.generation
	o.state = StateClosing
	o.publish()
	go o.fireAfter(ctx, o.deps.CloseAnimationMs, evCloseTimer, gen)
}

func (o *Orchestrator) enterIdle() {
	if o.deps.Live != nil {
		_ = o.deps.Live.Reset()
	}
	o.state = StateIdle
	o.preListening = false
	o.buffered = nil
	o.partialText = ""
	o.finalText = ""
	o.publish()
}

// runFinal runs C5 (batch recognizer) and C6 (post-processor) on a worker
// goroutine — never blocking the event loop on recognizer I/O — then hands
// the result back as an evProcessingDone event so C7 (keystroke emission)
// runs on the orchestrator's own task (see handle's evProcessingDone case).
// Emission never happens here: doing it on this detached goroutine is what
// previously let a stale, stopped session still type, or let two sessions'
// keystrokes interleave.
func (o *Orchestrator) runFinal(ctx context.Context, window []audio.Frame, lastPartial string, gen int) {
	var finalText, errText string
	if len(window) > 0 && o.deps.Batch != nil {
		samples := flatten(window)
		tr, err := o.deps.Batch.TranscribeBytes(ctx, samples)
		if err != nil {
			o.log.Warn("final recognizer failed, falling back to last partial", "err", err)
			finalText = lastPartial
			errText = err.Error()
		} else {
			finalText = tr.Text
		}
	}

	if len(window) > 0 && o.deps.Recorder != nil {
		name := strconv.FormatInt(time.Now().UnixNano(), 10)
		if _, err := o.deps.Recorder.SaveUtterance(name, window); err != nil {
			o.log.Warn("diagnostics recording failed", "err", err)
		}
	}

	if finalText != "" && o.deps.Post != nil {
		finalText = o.deps.Post.Apply(finalText)
	}

	select {
	case o.events <- event{kind: evProcessingDone, genAt: gen, text: finalText, errText: errText}:
	case <-ctx.Done():
	}
}

// VerboseStatus returns spec-supplemented "status -v" detail: current
// state, how long the active session has been running, and the last
// recognizer/emitter error observed, as a single JSON line.
func (o *Orchestrator) VerboseStatus() string {
	var durationMs int64
	if o.state != StateIdle && !o.sessionStartedAt.IsZero() {
		durationMs = time.Since(o.sessionStartedAt).Milliseconds()
	}
	payload, err := json.Marshal(struct {
		State             string `json:"state"`
		SessionDurationMs int64  `json:"session_duration_ms"`
		LastError         string `json:"last_error,omitempty"`
	}{
		State:             string(o.state),
		SessionDurationMs: durationMs,
		LastError:         o.lastErr,
	})
	if err != nil {
		return "error: " + err.Error()
	}
	return string(payload)
}

func (o *Orchestrator) fireAfter(ctx context.Context, d time.Duration, kind eventKind, gen int) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		select {
		case o.events <- event{kind: kind, genAt: gen}:
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
}

func (o *Orchestrator) publish() {
	if o.deps.OnState == nil {
		return
	}
	o.deps.OnState(Snapshot{
		Mode:         o.state,
		PreListening: o.preListening,
		PartialText:  o.partialText,
		FinalText:    o.finalText,
	})
}

func flatten(frames []audio.Frame) []float32 {
	out := make([]float32, 0, len(frames)*audio.FrameSamples)
	for _, f := range frames {
		out = append(out, f.Samples[:]...)
	}
	return out
}
