package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhue-dev/voicedictated/internal/audio"
	"github.com/rhue-dev/voicedictated/internal/controlsock"
	"github.com/rhue-dev/voicedictated/internal/emitter"
	"github.com/rhue-dev/voicedictated/internal/recognizer"
	"github.com/rhue-dev/voicedictated/internal/recording"
	"github.com/rhue-dev/voicedictated/internal/vad"
)

type stateRecorder struct {
	mu   sync.Mutex
	seen []Snapshot
}

func (r *stateRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func (r *stateRecorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return Snapshot{}
	}
	return r.seen[len(r.seen)-1]
}

func (r *stateRecorder) waitFor(t *testing.T, state State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if last := r.last(); last.Mode == state {
			return last
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last seen %+v", state, r.last())
	return Snapshot{}
}

func newTestOrchestrator(t *testing.T, rec *stateRecorder) (*Orchestrator, context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	o := New(Deps{
		Live:             recognizer.NewStubLiveEngine([]string{"hello", "world"}, 1),
		Batch:            recognizer.NewStubBatchEngine("hello world"),
		Emit:             emitter.New(emitter.WithBinary("true")),
		OnState:          rec.record,
		PreListeningMs:   20 * time.Millisecond,
		CloseAnimationMs: 20 * time.Millisecond,
	})
	go func() { _ = o.Run(ctx) }()
	return o, ctx, cancel
}

func frame() audio.Frame { return audio.Frame{} }

// slowBatchEngine simulates C5 still being in flight when stop arrives: it
// blocks for delay before returning a fixed transcript.
type slowBatchEngine struct {
	text  string
	delay time.Duration
}

func (e *slowBatchEngine) TranscribeBytes(ctx context.Context, _ []float32) (recognizer.Transcript, error) {
	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return recognizer.Transcript{}, ctx.Err()
	}
	return recognizer.Transcript{Text: e.text, IsFinal: true, Confidence: 1}, nil
}

func (e *slowBatchEngine) Close() error { return nil }

// recordingEmitterScript writes an executable shell script that appends
// every invocation's final argument (the text wtype would have typed) as
// its own line to a file, and returns the script path and a reader for the
// recorded lines. Used in place of emitter.WithBinary("true") whenever a
// test needs to observe whether C7 actually ran, not just that the
// orchestrator reached some state.
func recordingEmitterScript(t *testing.T) (scriptPath string, lines func() []string) {
	t.Helper()
	dir := t.TempDir()
	scriptPath = filepath.Join(dir, "record-emit.sh")
	logPath := filepath.Join(dir, "calls.log")
	script := "#!/bin/sh\necho \"$*\" >> " + logPath + "\n"
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))
	return scriptPath, func() []string {
		data, err := os.ReadFile(logPath)
		if err != nil {
			return nil
		}
		return strings.Split(strings.TrimSpace(string(data)), "\n")
	}
}

func TestStopDuringProcessingCancelsEmissionOfStaleSession(t *testing.T) {
	rec := &stateRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scriptPath, calls := recordingEmitterScript(t)
	o := New(Deps{
		Live:             recognizer.NewStubLiveEngine([]string{"hello"}, 1),
		Batch:            &slowBatchEngine{text: "hello world", delay: 150 * time.Millisecond},
		Emit:             emitter.New(emitter.WithBinary(scriptPath)),
		OnState:          rec.record,
		PreListeningMs:   10 * time.Millisecond,
		CloseAnimationMs: 10 * time.Millisecond,
	})
	go func() { _ = o.Run(ctx) }()

	_, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)
	o.FeedVadEvent(ctx, vad.Event{Type: vad.EventSpeechStart, Window: []audio.Frame{frame()}})
	rec.waitFor(t, StateListening)

	reply, err := o.HandleVerb(ctx, controlsock.VerbConfirm)
	require.NoError(t, err)
	require.Equal(t, "processing", reply)

	// Stop while C5 is still in flight (slowBatchEngine's 150ms delay).
	reply, err = o.HandleVerb(ctx, controlsock.VerbStop)
	require.NoError(t, err)
	require.Equal(t, "closing", reply)

	rec.waitFor(t, StateIdle)
	// Give the stale runFinal goroutine time to finish and post its
	// (now-ignored) evProcessingDone.
	time.Sleep(250 * time.Millisecond)

	require.Empty(t, calls(), "stop must cancel emission of the stale session, not just its state transition")
}

func TestConfirmedSessionsNeverInterleaveEmission(t *testing.T) {
	rec := &stateRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scriptPath, calls := recordingEmitterScript(t)
	o := New(Deps{
		Live:             recognizer.NewStubLiveEngine([]string{"hello"}, 1),
		Batch:            recognizer.NewStubBatchEngine("second"),
		Emit:             emitter.New(emitter.WithBinary(scriptPath)),
		OnState:          rec.record,
		PreListeningMs:   5 * time.Millisecond,
		CloseAnimationMs: 5 * time.Millisecond,
	})
	go func() { _ = o.Run(ctx) }()

	for i := 0; i < 2; i++ {
		_, err := o.HandleVerb(ctx, controlsock.VerbStart)
		require.NoError(t, err)
		o.FeedVadEvent(ctx, vad.Event{Type: vad.EventSpeechStart, Window: []audio.Frame{frame()}})
		rec.waitFor(t, StateListening)

		_, err = o.HandleVerb(ctx, controlsock.VerbConfirm)
		require.NoError(t, err)
		rec.waitFor(t, StateIdle)
	}

	// Both sessions emitted, each exactly once, never concurrently (handle's
	// evProcessingDone case is the only caller of Emit.Type, on the single
	// event-loop goroutine, so this is structurally guaranteed, not just
	// observed here).
	require.Equal(t, []string{"second", "second"}, calls())
}

func TestStartEntersPreListeningThenListeningOnTimer(t *testing.T) {
	rec := &stateRecorder{}
	o, ctx, cancel := newTestOrchestrator(t, rec)
	defer cancel()

	reply, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)
	require.Equal(t, "prelistening", reply)

	rec.waitFor(t, StateListening)
}

func TestSpeechStartDuringPreListeningEntersListeningImmediately(t *testing.T) {
	rec := &stateRecorder{}
	o, ctx, cancel := newTestOrchestrator(t, rec)
	defer cancel()

	_, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)

	o.FeedVadEvent(ctx, vad.Event{Type: vad.EventSpeechStart, Window: []audio.Frame{frame(), frame()}})
	rec.waitFor(t, StateListening)
}

func TestSecondStartDuringActiveSessionIsIgnored(t *testing.T) {
	rec := &stateRecorder{}
	o, ctx, cancel := newTestOrchestrator(t, rec)
	defer cancel()

	first, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)
	require.Equal(t, "prelistening", first)

	second, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)
	require.Equal(t, "prelistening", second)
}

func TestConfirmRunsFinalRecognizerAndEmitsThenCloses(t *testing.T) {
	rec := &stateRecorder{}
	o, ctx, cancel := newTestOrchestrator(t, rec)
	defer cancel()

	_, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)
	o.FeedVadEvent(ctx, vad.Event{Type: vad.EventSpeechStart, Window: []audio.Frame{frame()}})
	rec.waitFor(t, StateListening)

	reply, err := o.HandleVerb(ctx, controlsock.VerbConfirm)
	require.NoError(t, err)
	require.Equal(t, "processing", reply)

	closing := rec.waitFor(t, StateClosing)
	require.Equal(t, "hello world", closing.FinalText)

	rec.waitFor(t, StateIdle)
}

func TestConfirmBeforeAnySpeechStillRunsFinalOnBufferedAudio(t *testing.T) {
	rec := &stateRecorder{}
	o, ctx, cancel := newTestOrchestrator(t, rec)
	defer cancel()

	_, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)
	// Still in PreListening: confirm should transition straight to
	// Processing per the tie-break rule, even with nothing buffered yet.
	reply, err := o.HandleVerb(ctx, controlsock.VerbConfirm)
	require.NoError(t, err)
	require.Equal(t, "processing", reply)

	rec.waitFor(t, StateClosing)
	rec.waitFor(t, StateIdle)
}

func TestStopDuringListeningClosesWithoutEmitting(t *testing.T) {
	rec := &stateRecorder{}
	o, ctx, cancel := newTestOrchestrator(t, rec)
	defer cancel()

	_, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)
	o.FeedVadEvent(ctx, vad.Event{Type: vad.EventSpeechStart, Window: []audio.Frame{frame()}})
	rec.waitFor(t, StateListening)

	reply, err := o.HandleVerb(ctx, controlsock.VerbStop)
	require.NoError(t, err)
	require.Equal(t, "closing", reply)

	closing := rec.waitFor(t, StateClosing)
	require.Empty(t, closing.FinalText)

	rec.waitFor(t, StateIdle)
}

func TestStatusReportsCurrentStateWithoutTransition(t *testing.T) {
	rec := &stateRecorder{}
	o, ctx, cancel := newTestOrchestrator(t, rec)
	defer cancel()

	reply, err := o.HandleVerb(ctx, controlsock.VerbStatus)
	require.NoError(t, err)
	require.Equal(t, "idle", reply)
}

func TestFeedFrameDuringListeningUpdatesPartialText(t *testing.T) {
	rec := &stateRecorder{}
	o, ctx, cancel := newTestOrchestrator(t, rec)
	defer cancel()

	_, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)
	o.FeedVadEvent(ctx, vad.Event{Type: vad.EventSpeechStart, Window: []audio.Frame{frame()}})
	rec.waitFor(t, StateListening)

	o.FeedFrame(ctx, frame())
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rec.last().PartialText == "hello" {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("partial text never updated, last seen %+v", rec.last())
}

func TestStatusVerboseReportsStateAndSessionDuration(t *testing.T) {
	rec := &stateRecorder{}
	o, ctx, cancel := newTestOrchestrator(t, rec)
	defer cancel()

	_, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)

	reply, err := o.HandleVerb(ctx, controlsock.VerbStatusVerbose)
	require.NoError(t, err)

	var detail struct {
		State             string `json:"state"`
		SessionDurationMs int64  `json:"session_duration_ms"`
		LastError         string `json:"last_error,omitempty"`
	}
	require.NoError(t, json.Unmarshal([]byte(reply), &detail))
	require.Equal(t, "prelistening", detail.State)
	require.Empty(t, detail.LastError)
}

func TestConfirmWithRecorderConfiguredSavesUtteranceFile(t *testing.T) {
	rec := &stateRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	o := New(Deps{
		Live:             recognizer.NewStubLiveEngine([]string{"hello"}, 1),
		Batch:            recognizer.NewStubBatchEngine("hello world"),
		Emit:             emitter.New(emitter.WithBinary("true")),
		Recorder:         recording.New(dir, 0),
		OnState:          rec.record,
		PreListeningMs:   20 * time.Millisecond,
		CloseAnimationMs: 20 * time.Millisecond,
	})
	go func() { _ = o.Run(ctx) }()

	_, err := o.HandleVerb(ctx, controlsock.VerbStart)
	require.NoError(t, err)
	o.FeedVadEvent(ctx, vad.Event{Type: vad.EventSpeechStart, Window: []audio.Frame{frame()}})
	rec.waitFor(t, StateListening)

	_, err = o.HandleVerb(ctx, controlsock.VerbConfirm)
	require.NoError(t, err)
	rec.waitFor(t, StateIdle)

	matches, err := filepath.Glob(filepath.Join(dir, "*.opus"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}
