// Package config implements the daemon's TOML configuration (spec.md §6):
// parsing, defaulting, validation, and atomic reload via ConfigSnapshot
// replacement.
//
// Grounded on the teacher's config package (client/internal/config/config.go)
// for the load/Default/Path shape, adapted from JSON/os.UserConfigDir to
// TOML via github.com/pelletier/go-toml/v2 and a fixed XDG-style path, and
// from a single mutable struct to an atomically-swapped immutable snapshot
// per spec.md §3's ConfigSnapshot lifecycle ("created once; replaced
// atomically on reload; readers use the snapshot they captured at session
// start").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pelletier/go-toml/v2"

	"github.com/rhue-dev/voicedictated/internal/errs"
)

// File holds the raw TOML structure, mirroring spec.md §6's recognized key
// table. Unrecognized keys are ignored by go-toml/v2's default decoding.
type File struct {
	Daemon struct {
		AudioDevice          string `toml:"audio_device"`
		SampleRate           int    `toml:"sample_rate"`
		Language             string `toml:"language"`
		PreviewModel         string `toml:"preview_model"`
		PreviewModelCustom   string `toml:"preview_model_custom_path"`
		FinalModel           string `toml:"final_model"`
		FinalModelCustom     string `toml:"final_model_custom_path"`
		DebugRecord          bool   `toml:"debug_record"`
	} `toml:"daemon"`

	Vad struct {
		EnergyThresholdDB   float64 `toml:"energy_threshold_db"`
		SpeechTriggerFrames int     `toml:"speech_trigger_frames"`
		SilenceTriggerFrames int    `toml:"silence_trigger_frames"`
	} `toml:"vad"`

	Keyboard struct {
		TypingDelayMs int `toml:"typing_delay_ms"`
		WordDelayMs   int `toml:"word_delay_ms"`
	} `toml:"keyboard"`

	Gui struct {
		MarginFromBottomPx int `toml:"margin_from_bottom_px"`
	} `toml:"gui"`

	Animations struct {
		CloseAnimationMs int `toml:"close_animation_ms"`
	} `toml:"animations"`

	// AcronymFolding and Capitalization are pointers so applyFile can tell
	// "key absent from the file" (nil: keep Default()'s sticky true) apart
	// from "key explicitly set to false" (spec.md §6's post_processing.*
	// per-stage toggles must be able to turn a stage off).
	PostProcessing struct {
		AcronymFolding *bool `toml:"acronym_folding"`
		Capitalization *bool `toml:"capitalization"`
		GrammarPass    bool  `toml:"grammar_pass"`
	} `toml:"post_processing"`
}

// Snapshot is the resolved, immutable view of configuration assembled at
// daemon start and on explicit reload (spec.md §3's ConfigSnapshot).
type Snapshot struct {
	AudioDevice        string
	SampleRate         int
	Language           string
	PreviewModel       string
	PreviewModelCustom string
	FinalModel         string
	FinalModelCustom   string

	EnergyThresholdDB    float64
	SpeechTriggerFrames  int
	SilenceTriggerFrames int

	TypingDelayMs int
	WordDelayMs   int

	MarginFromBottomPx int
	CloseAnimationMs   int

	AcronymFolding bool
	Capitalization bool
	GrammarPass    bool

	// DebugRecord enables SPEC_FULL's supplemented session-diagnostics
	// recorder (daemon.debug_record); off by default.
	DebugRecord bool
}

// Default returns a Snapshot populated with spec.md's documented defaults.
func Default() Snapshot {
	return Snapshot{
		AudioDevice:          "default",
		SampleRate:           16000,
		Language:             "en",
		PreviewModel:         "onnx-streaming",
		FinalModel:           "whisper-base",
		EnergyThresholdDB:    -40,
		SpeechTriggerFrames:  3,
		SilenceTriggerFrames: 25,
		TypingDelayMs:        10,
		WordDelayMs:          50,
		MarginFromBottomPx:   50,
		CloseAnimationMs:     500,
		AcronymFolding:       true,
		Capitalization:       true,
		GrammarPass:          false,
	}
}

// Path returns the standard config file path,
// $XDG_CONFIG_HOME/voice-dictation/config.toml (falling back to
// ~/.config when XDG_CONFIG_HOME is unset).
func Path() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "voice-dictation", "config.toml"), nil
}

// Load reads and validates the config file at path, merging it over
// Default(). A missing file is not an error; Default() is returned. A
// present-but-invalid file returns an *errs.Error of kind KindConfigInvalid
// and no snapshot, so the daemon fails closed per spec.md §7
// ("Fail daemon startup; do not partially apply").
func Load(path string) (Snapshot, error) {
	snap := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return Snapshot{}, errs.New(errs.KindConfigInvalid, "config.load", err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return Snapshot{}, errs.New(errs.KindConfigInvalid, "config.load", err)
	}

	applyFile(&snap, f)
	if err := validate(snap); err != nil {
		return Snapshot{}, errs.New(errs.KindConfigInvalid, "config.load", err)
	}
	return snap, nil
}

// applyFile overlays non-zero fields from f onto snap, leaving defaults in
// place for anything the file did not set.
func applyFile(snap *Snapshot, f File) {
	if f.Daemon.AudioDevice != "" {
		snap.AudioDevice = f.Daemon.AudioDevice
	}
	if f.Daemon.SampleRate != 0 {
		snap.SampleRate = f.Daemon.SampleRate
	}
	if f.Daemon.Language != "" {
		snap.Language = f.Daemon.Language
	}
	if f.Daemon.PreviewModel != "" {
		snap.PreviewModel = f.Daemon.PreviewModel
	}
	if f.Daemon.PreviewModelCustom != "" {
		snap.PreviewModelCustom = f.Daemon.PreviewModelCustom
	}
	if f.Daemon.FinalModel != "" {
		snap.FinalModel = f.Daemon.FinalModel
	}
	if f.Daemon.FinalModelCustom != "" {
		snap.FinalModelCustom = f.Daemon.FinalModelCustom
	}
	if f.Vad.EnergyThresholdDB != 0 {
		snap.EnergyThresholdDB = f.Vad.EnergyThresholdDB
	}
	if f.Vad.SpeechTriggerFrames != 0 {
		snap.SpeechTriggerFrames = f.Vad.SpeechTriggerFrames
	}
	if f.Vad.SilenceTriggerFrames != 0 {
		snap.SilenceTriggerFrames = f.Vad.SilenceTriggerFrames
	}
	if f.Keyboard.TypingDelayMs != 0 {
		snap.TypingDelayMs = f.Keyboard.TypingDelayMs
	}
	if f.Keyboard.WordDelayMs != 0 {
		snap.WordDelayMs = f.Keyboard.WordDelayMs
	}
	if f.Gui.MarginFromBottomPx != 0 {
		snap.MarginFromBottomPx = f.Gui.MarginFromBottomPx
	}
	if f.Animations.CloseAnimationMs != 0 {
		snap.CloseAnimationMs = f.Animations.CloseAnimationMs
	}
	if f.PostProcessing.AcronymFolding != nil {
		snap.AcronymFolding = *f.PostProcessing.AcronymFolding
	}
	if f.PostProcessing.Capitalization != nil {
		snap.Capitalization = *f.PostProcessing.Capitalization
	}
	snap.GrammarPass = f.PostProcessing.GrammarPass
	snap.DebugRecord = f.Daemon.DebugRecord
}

// validate rejects snapshots that would crash or misbehave downstream.
func validate(s Snapshot) error {
	if s.SampleRate <= 0 {
		return fmt.Errorf("daemon.sample_rate must be positive, got %d", s.SampleRate)
	}
	if s.SpeechTriggerFrames <= 0 {
		return fmt.Errorf("vad.speech_trigger_frames must be positive, got %d", s.SpeechTriggerFrames)
	}
	if s.SilenceTriggerFrames <= 0 {
		return fmt.Errorf("vad.silence_trigger_frames must be positive, got %d", s.SilenceTriggerFrames)
	}
	if s.TypingDelayMs < 0 || s.WordDelayMs < 0 {
		return fmt.Errorf("keyboard delays must not be negative")
	}
	return nil
}

// Store holds the current Snapshot behind an atomic pointer so readers
// never observe a torn config during a concurrent Reload (spec.md §3:
// "replaced atomically on reload").
type Store struct {
	v atomic.Pointer[Snapshot]
}

// NewStore returns a Store holding snap.
func NewStore(snap Snapshot) *Store {
	s := &Store{}
	s.v.Store(&snap)
	return s
}

// Current returns the currently active Snapshot.
func (s *Store) Current() Snapshot {
	return *s.v.Load()
}

// Reload re-reads path and atomically swaps in the new Snapshot on success.
// On failure the Store's current snapshot is left untouched, matching
// spec.md's "fail closed; do not partially apply" policy.
func (s *Store) Reload(path string) error {
	snap, err := Load(path)
	if err != nil {
		return err
	}
	s.v.Store(&snap)
	return nil
}
