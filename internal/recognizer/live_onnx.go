//go:build onnx

package recognizer

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// liveWindowSamples is the fixed window size the streaming ONNX model
	// consumes per inference call, matching the pipeline's frame size
	// (audio.FrameSamples) so Accept can be called once per captured frame
	// without internal buffering across frame boundaries.
	liveWindowSamples = 512
	liveStateSize     = 128
)

var (
	liveOrtInitOnce sync.Once
	liveOrtInitErr  error
)

// OnnxLiveEngine runs a streaming recognition model via ONNX Runtime, the
// same windowed-inference shape nupi-vad-plugin uses for Silero VAD
// (internal/engine/silero.go), repurposed here from speech/silence
// classification to incremental transcript scoring: the model is expected
// to expose "input"/"state"/"sr" inputs and "output"/"stateN" outputs,
// where "output" is interpreted as per-step token logits accumulated into
// text by a caller-supplied decode function.
type OnnxLiveEngine struct {
	mu sync.Mutex

	session *ort.AdvancedSession

	inputTensor *ort.Tensor[float32]
	stateTensor *ort.Tensor[float32]
	srTensor    *ort.Tensor[int64]

	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]

	pcmBuf []float32
	text   string
	decode func(logits []float32) string
}

// NewOnnxLiveEngine loads modelData and allocates the tensors needed to run
// it. decode converts one inference call's output logits into the text
// token(s) produced at that step; it is supplied by the caller so the
// engine package stays agnostic of the model's vocabulary.
func NewOnnxLiveEngine(libPath string, modelData []byte, decode func([]float32) string) (*OnnxLiveEngine, error) {
	if len(modelData) == 0 {
		return nil, fmt.Errorf("recognizer: onnx model data is empty")
	}
	liveOrtInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		liveOrtInitErr = ort.InitializeEnvironment()
	})
	if liveOrtInitErr != nil {
		return nil, fmt.Errorf("recognizer: initialize onnxruntime: %w", liveOrtInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, liveWindowSamples))
	if err != nil {
		return nil, fmt.Errorf("recognizer: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, liveStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("recognizer: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{SampleRate})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("recognizer: create sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, liveWindowSamples))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("recognizer: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, liveStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("recognizer: create stateN tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		modelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("recognizer: create session: %w", err)
	}

	if decode == nil {
		decode = func([]float32) string { return "" }
	}

	return &OnnxLiveEngine{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		pcmBuf:       make([]float32, 0, liveWindowSamples*2),
		decode:       decode,
	}, nil
}

// Reset clears hidden state and the accumulated transcript.
func (e *OnnxLiveEngine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	clearFloat32(e.stateTensor.GetData())
	e.pcmBuf = e.pcmBuf[:0]
	e.text = ""
	return nil
}

// Accept buffers samples and runs inference for every complete window,
// appending each step's decoded text to the running transcript.
func (e *OnnxLiveEngine) Accept(samples []float32) (Transcript, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pcmBuf = append(e.pcmBuf, samples...)
	advanced := false
	for len(e.pcmBuf) >= liveWindowSamples {
		if err := e.infer(e.pcmBuf[:liveWindowSamples]); err != nil {
			return Transcript{}, false
		}
		e.pcmBuf = e.pcmBuf[liveWindowSamples:]
		advanced = true
	}
	if !advanced {
		return Transcript{}, false
	}
	return Transcript{Text: e.text, IsFinal: false}, true
}

// Finalize runs one last inference over any partial window (zero-padded)
// and returns the accumulated transcript.
func (e *OnnxLiveEngine) Finalize() (Transcript, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pcmBuf) > 0 {
		padded := make([]float32, liveWindowSamples)
		copy(padded, e.pcmBuf)
		if err := e.infer(padded); err != nil {
			return Transcript{}, err
		}
		e.pcmBuf = e.pcmBuf[:0]
	}
	return Transcript{Text: e.text, IsFinal: true}, nil
}

// Close releases the session and all tensors. Safe to call once.
func (e *OnnxLiveEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	for _, t := range []interface{ Destroy() }{e.inputTensor, e.stateTensor, e.srTensor, e.outputTensor, e.stateNTensor} {
		if t != nil {
			t.Destroy()
		}
	}
	return nil
}

func (e *OnnxLiveEngine) infer(window []float32) error {
	copy(e.inputTensor.GetData(), window)
	if err := e.session.Run(); err != nil {
		return fmt.Errorf("recognizer: onnx inference: %w", err)
	}
	e.text += e.decode(e.outputTensor.GetData())
	copy(e.stateTensor.GetData(), e.stateNTensor.GetData())
	return nil
}

func clearFloat32(s []float32) {
	for i := range s {
		s[i] = 0
	}
}

// NativeLiveAvailable reports that the ONNX-backed live engine is compiled
// in (built with -tags onnx).
func NativeLiveAvailable() bool { return true }

// NewLiveEngineForConfig builds the Live engine selected by a
// config.Snapshot's daemon.preview_model / preview_model_custom_path
// (spec.md §6), in a build with -tags onnx. modelPath is the resolved
// on-disk model file and libPath the ONNX Runtime shared library path.
func NewLiveEngineForConfig(libPath, modelPath string, decode func([]float32) string) (Live, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("recognizer: read onnx model %q: %w", modelPath, err)
	}
	return NewOnnxLiveEngine(libPath, data, decode)
}
