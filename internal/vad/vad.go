// Package vad implements the design's C3 energy-based voice activity
// detector: RMS-to-dB classification with separate speech/silence trigger
// counts (hysteresis) and a pre-roll window so the first words of an
// utterance are not clipped.
//
// Adapted from the teacher's single-hangover-counter VAD
// (client/internal/vad/vad.go) into spec.md §4.3's two-sided hysteresis
// (distinct SPEECH_TRIGGER / SILENCE_TRIGGER consecutive-frame counts) plus
// the pre-roll behavior the teacher's VAD does not have.
package vad

import (
	"math"

	"github.com/rhue-dev/voicedictated/internal/audio"
)

// Mode is the VAD's speech/silence classification.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSpeaking
)

const (
	// DefaultEnergyThresholdDB is the RMS-in-dB level above which a frame is
	// considered speech (spec.md §3).
	DefaultEnergyThresholdDB = -40.0
	// DefaultSpeechTriggerFrames is the number of consecutive above-threshold
	// frames required to enter ModeSpeaking.
	DefaultSpeechTriggerFrames = 3
	// DefaultSilenceTriggerFrames is the number of consecutive
	// below-threshold frames required to return to ModeIdle (~800ms at
	// 32ms/frame).
	DefaultSilenceTriggerFrames = 25
	// DefaultPreRollFrames covers ~0.2s of pre-roll at 32ms/frame.
	DefaultPreRollFrames = 6

	// dBFloor is the floor applied to the dB conversion to avoid -Inf for
	// silent frames.
	dBFloor = -120.0
)

// EventType distinguishes a speech-start transition from a speech-end one.
type EventType int

const (
	EventSpeechStart EventType = iota
	EventSpeechEnd
)

// Event is emitted on a speech/silence mode transition.
type Event struct {
	Type EventType
	// Window holds the pre-roll plus all speech frames up to the
	// transition; only populated on EventSpeechEnd.
	Window []audio.Frame
}

// State tracks the VAD's running classification, mirroring spec.md §3's
// VadState: {mode, speech_frames, silence_frames}.
type State struct {
	Mode          Mode
	SpeechFrames  int
	SilenceFrames int
}

// Gate classifies incoming frames and emits start/end events.
type Gate struct {
	thresholdDB    float64
	speechTrigger  int
	silenceTrigger int
	preRollFrames  int

	state State

	// preRoll is a small fixed-size circular history of the most recent
	// preRollFrames+speechTrigger frames, used to seed a segment with the
	// trigger frames and the audio that preceded them.
	preRoll    []audio.Frame
	preRollPos int
	preRollLen int

	segment         []audio.Frame
	inSpeechSegment bool
}

// Option configures a Gate.
type Option func(*Gate)

func WithThresholdDB(db float64) Option {
	return func(g *Gate) { g.thresholdDB = db }
}

func WithSpeechTrigger(frames int) Option {
	return func(g *Gate) {
		if frames > 0 {
			g.speechTrigger = frames
		}
	}
}

func WithSilenceTrigger(frames int) Option {
	return func(g *Gate) {
		if frames > 0 {
			g.silenceTrigger = frames
		}
	}
}

func WithPreRollFrames(frames int) Option {
	return func(g *Gate) {
		if frames >= 0 {
			g.preRollFrames = frames
		}
	}
}

// New returns a Gate with spec.md §3 defaults, overridden by opts.
func New(opts ...Option) *Gate {
	g := &Gate{
		thresholdDB:    DefaultEnergyThresholdDB,
		speechTrigger:  DefaultSpeechTriggerFrames,
		silenceTrigger: DefaultSilenceTriggerFrames,
		preRollFrames:  DefaultPreRollFrames,
	}
	for _, o := range opts {
		o(g)
	}
	if n := g.preRollFrames + g.speechTrigger; n > 0 {
		g.preRoll = make([]audio.Frame, n)
	}
	return g
}

// RMSToDB converts a frame's RMS energy to dB, floored at dBFloor.
func RMSToDB(samples []float32) float64 {
	if len(samples) == 0 {
		return dBFloor
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= 0 {
		return dBFloor
	}
	db := 20 * math.Log10(rms)
	if db < dBFloor {
		return dBFloor
	}
	return db
}

// Process classifies one frame and returns an Event if a mode transition
// occurred. Every frame is recorded into the pre-roll history regardless of
// classification, and appended to the in-progress segment once one starts.
func (g *Gate) Process(f audio.Frame) *Event {
	g.pushPreRoll(f)
	if g.inSpeechSegment {
		g.segment = append(g.segment, f)
	}

	db := RMSToDB(f.Samples[:])
	above := db > g.thresholdDB

	switch g.state.Mode {
	case ModeIdle:
		if above {
			g.state.SpeechFrames++
			g.state.SilenceFrames = 0
		} else {
			g.state.SpeechFrames = 0
		}
		if g.state.SpeechFrames >= g.speechTrigger {
			g.state.Mode = ModeSpeaking
			g.state.SpeechFrames = 0
			g.state.SilenceFrames = 0
			g.startSegment()
			return &Event{Type: EventSpeechStart}
		}
	case ModeSpeaking:
		if above {
			g.state.SilenceFrames = 0
		} else {
			g.state.SilenceFrames++
		}
		if g.state.SilenceFrames >= g.silenceTrigger {
			g.state.Mode = ModeIdle
			g.state.SilenceFrames = 0
			window := g.endSegment()
			return &Event{Type: EventSpeechEnd, Window: window}
		}
	}
	return nil
}

// pushPreRoll records f into the circular pre-roll history.
func (g *Gate) pushPreRoll(f audio.Frame) {
	if len(g.preRoll) == 0 {
		return
	}
	g.preRoll[g.preRollPos] = f
	g.preRollPos = (g.preRollPos + 1) % len(g.preRoll)
	if g.preRollLen < len(g.preRoll) {
		g.preRollLen++
	}
}

// preRollSnapshot returns the resident history frames oldest-first. The
// current frame (already pushed by Process before startSegment runs) is
// included, so the returned slice ends with the SPEECH_TRIGGER frames that
// confirmed speech, preceded by up to preRollFrames earlier frames.
func (g *Gate) preRollSnapshot() []audio.Frame {
	if g.preRollLen == 0 {
		return nil
	}
	out := make([]audio.Frame, g.preRollLen)
	start := (g.preRollPos - g.preRollLen + len(g.preRoll)) % len(g.preRoll)
	for i := 0; i < g.preRollLen; i++ {
		out[i] = g.preRoll[(start+i)%len(g.preRoll)]
	}
	return out
}

// startSegment seeds the in-progress segment with the pre-roll window
// (spec.md §4.3's N_PRE frames before SpeechStart).
func (g *Gate) startSegment() {
	g.inSpeechSegment = true
	g.segment = append([]audio.Frame(nil), g.preRollSnapshot()...)
}

// ConfirmSegment closes the current segment immediately (even if still
// ModeSpeaking), per spec.md §4.3's "on confirm from C9" rule, and returns
// the accumulated audio window.
func (g *Gate) ConfirmSegment() []audio.Frame {
	if !g.inSpeechSegment {
		return nil
	}
	return g.endSegment()
}

func (g *Gate) endSegment() []audio.Frame {
	out := g.segment
	g.segment = nil
	g.inSpeechSegment = false
	return out
}
