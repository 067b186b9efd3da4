// Package recognizer implements the design's C4 (preview/streaming) and C5
// (final/batch) recognizer capabilities behind a shared interface family, so
// the session orchestrator (C9) can drive either without knowing which
// concrete backend is selected.
//
// Two capability interfaces exist because the underlying engines have
// fundamentally different shapes: Live engines process audio incrementally
// and can be asked for a tentative transcript at any time (ONNX streaming
// backend); Batch engines only produce a transcript once handed the
// complete utterance (whisper.cpp). Each has a native implementation
// (build-tagged onnx/whisper) and a deterministic stub used for tests and
// for running without the native libraries installed, grounded on
// nupi-vad-plugin's NativeAvailable/StubEngine pattern
// (internal/engine/native_stub_build.go, internal/engine/stub.go).
package recognizer

import "context"

// Transcript is the recognizer's output unit, carrying whatever text has
// been produced so far (for Live) or the complete utterance text (Batch).
type Transcript struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// Live is the streaming preview engine capability (C4). Accept is called
// once per audio.Frame (or equivalently-sized PCM window); Finalize flushes
// any buffered audio and returns the best transcript for everything seen
// since the last Reset.
type Live interface {
	// Reset clears all internal state, starting a new utterance.
	Reset() error
	// Accept processes one frame of mono PCM samples at recognizer.SampleRate
	// and returns an updated tentative Transcript, or ok=false if the engine
	// has nothing new to report yet.
	Accept(samples []float32) (t Transcript, ok bool)
	// Finalize flushes any buffered audio and returns the engine's best
	// transcript for the utterance.
	Finalize() (Transcript, error)
	// Close releases engine resources. Safe to call once.
	Close() error
}

// Batch is the final/batch engine capability (C5): handed the complete
// utterance's PCM samples in one call, it returns the authoritative
// transcript.
type Batch interface {
	// TranscribeBytes transcribes a complete mono PCM utterance at
	// recognizer.SampleRate sampled as float32 in [-1, 1].
	TranscribeBytes(ctx context.Context, samples []float32) (Transcript, error)
	// Close releases engine resources. Safe to call once.
	Close() error
}

// SampleRate is the fixed sample rate both recognizer capabilities expect,
// matching audio.PipelineRate so no component needs to resample twice.
const SampleRate = 16000
