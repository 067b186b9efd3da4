//go:build !onnx

package recognizer

import "errors"

// ErrNativeLiveUnavailable indicates the ONNX-backed streaming engine is not
// compiled in.
var ErrNativeLiveUnavailable = errors.New("recognizer: onnx live backend not available (build with -tags onnx)")

// NativeLiveAvailable reports that no native live engine is compiled in.
func NativeLiveAvailable() bool { return false }

// StubLiveEngine is a deterministic Live implementation used for tests and
// for running the daemon without the ONNX runtime installed, grounded on
// nupi-vad-plugin's StubEngine (internal/engine/stub.go).
type StubLiveEngine struct {
	// Script, if set, is emitted one word every wordEveryN calls to Accept;
	// useful for deterministic orchestrator tests.
	Script        []string
	wordEveryN    int
	framesSeen    int
	wordsEmitted  int
	text          string
}

// NewStubLiveEngine returns a StubLiveEngine that emits one word of script
// every wordEveryFrames calls to Accept.
func NewStubLiveEngine(script []string, wordEveryFrames int) *StubLiveEngine {
	if wordEveryFrames <= 0 {
		wordEveryFrames = 1
	}
	return &StubLiveEngine{Script: script, wordEveryN: wordEveryFrames}
}

func (e *StubLiveEngine) Reset() error {
	e.framesSeen = 0
	e.wordsEmitted = 0
	e.text = ""
	return nil
}

func (e *StubLiveEngine) Accept(_ []float32) (Transcript, bool) {
	e.framesSeen++
	if e.framesSeen%e.wordEveryN != 0 {
		return Transcript{}, false
	}
	if e.wordsEmitted >= len(e.Script) {
		return Transcript{}, false
	}
	if e.text != "" {
		e.text += " "
	}
	e.text += e.Script[e.wordsEmitted]
	e.wordsEmitted++
	return Transcript{Text: e.text, IsFinal: false}, true
}

func (e *StubLiveEngine) Finalize() (Transcript, error) {
	for e.wordsEmitted < len(e.Script) {
		if e.text != "" {
			e.text += " "
		}
		e.text += e.Script[e.wordsEmitted]
		e.wordsEmitted++
	}
	return Transcript{Text: e.text, IsFinal: true}, nil
}

func (e *StubLiveEngine) Close() error { return nil }

// NewLiveEngineForConfig returns a StubLiveEngine in a build without
// -tags onnx, so the daemon has a deterministic fallback rather than a
// failed start when the native backend is not compiled in (spec.md is
// silent on this; matching nupi-vad-plugin's NativeAvailable-gated
// fallback behavior).
func NewLiveEngineForConfig(_, _ string, _ func([]float32) string) (Live, error) {
	return NewStubLiveEngine(nil, 1), nil
}
