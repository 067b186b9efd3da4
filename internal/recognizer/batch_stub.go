//go:build !whisper

package recognizer

import (
	"context"
	"errors"
)

// ErrNativeBatchUnavailable indicates the whisper.cpp-backed batch engine is
// not compiled in.
var ErrNativeBatchUnavailable = errors.New("recognizer: whisper batch backend not available (build with -tags whisper)")

// NativeBatchAvailable reports that no native batch engine is compiled in.
func NativeBatchAvailable() bool { return false }

// StubBatchEngine is a deterministic Batch implementation used for tests and
// for running without whisper.cpp installed.
type StubBatchEngine struct {
	// Text is returned verbatim by every TranscribeBytes call, regardless of
	// the samples given, so orchestrator tests can assert on a known value.
	Text string
}

// NewStubBatchEngine returns a StubBatchEngine that always transcribes to
// text.
func NewStubBatchEngine(text string) *StubBatchEngine {
	return &StubBatchEngine{Text: text}
}

func (e *StubBatchEngine) TranscribeBytes(ctx context.Context, _ []float32) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	return Transcript{Text: e.Text, IsFinal: true, Confidence: 1}, nil
}

func (e *StubBatchEngine) Close() error { return nil }

// NewBatchEngineForConfig returns a StubBatchEngine in a build without
// -tags whisper, so the daemon has a deterministic fallback rather than a
// failed start when the native backend is not compiled in.
func NewBatchEngineForConfig(_, _ string) (Batch, error) {
	return NewStubBatchEngine(""), nil
}
