//go:build whisper

package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperBatchEngine implements Batch using whisper.cpp's native Go bindings
// (CGO), grounded on glyphoxa's NativeProvider
// (pkg/provider/stt/whisper/native.go): the model is loaded once and a fresh
// whisper context is created per transcription since contexts are not
// goroutine-safe.
type WhisperBatchEngine struct {
	model    whisperlib.Model
	language string
}

// NewWhisperBatchEngine loads a whisper.cpp model from modelPath.
func NewWhisperBatchEngine(modelPath, language string) (*WhisperBatchEngine, error) {
	if modelPath == "" {
		return nil, errors.New("recognizer: whisper modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("recognizer: load whisper model %q: %w", modelPath, err)
	}
	if language == "" {
		language = "en"
	}
	return &WhisperBatchEngine{model: model, language: language}, nil
}

// TranscribeBytes runs whisper.cpp inference over the full utterance.
func (e *WhisperBatchEngine) TranscribeBytes(ctx context.Context, samples []float32) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return Transcript{}, fmt.Errorf("recognizer: create whisper context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		return Transcript{}, fmt.Errorf("recognizer: set whisper language: %w", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Transcript{}, fmt.Errorf("recognizer: whisper process: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Transcript{}, fmt.Errorf("recognizer: read whisper segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return Transcript{Text: strings.Join(parts, " "), IsFinal: true, Confidence: 1}, nil
}

// Close releases the whisper model.
func (e *WhisperBatchEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// NativeBatchAvailable reports that the whisper.cpp batch engine is
// compiled in (built with -tags whisper).
func NativeBatchAvailable() bool { return true }

// NewBatchEngineForConfig builds the Batch engine selected by a
// config.Snapshot's daemon.final_model / final_model_custom_path
// (spec.md §6), in a build with -tags whisper.
func NewBatchEngineForConfig(modelPath, language string) (Batch, error) {
	return NewWhisperBatchEngine(modelPath, language)
}
