package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rhue-dev/voicedictated/internal/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	snap, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), snap)
}

func TestLoadOverlaysRecognizedKeysOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[daemon]
audio_device = "usb-mic"
sample_rate = 48000

[vad]
energy_threshold_db = -35.0
`)
	snap, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "usb-mic", snap.AudioDevice)
	require.Equal(t, 48000, snap.SampleRate)
	require.Equal(t, -35.0, snap.EnergyThresholdDB)
	// Untouched keys keep their default.
	require.Equal(t, "en", snap.Language)
	require.Equal(t, 3, snap.SpeechTriggerFrames)
}

func TestDefaultHasNonZeroEmitterPacing(t *testing.T) {
	snap := Default()
	require.Equal(t, 10, snap.TypingDelayMs)
	require.Equal(t, 50, snap.WordDelayMs)
}

func TestLoadWithPostProcessingSectionOmittedKeepsStickyDefaults(t *testing.T) {
	path := writeConfig(t, `
[daemon]
language = "en"
`)
	snap, err := Load(path)
	require.NoError(t, err)
	require.True(t, snap.AcronymFolding)
	require.True(t, snap.Capitalization)
}

func TestLoadCanExplicitlyDisableAcronymFoldingAndCapitalization(t *testing.T) {
	path := writeConfig(t, `
[post_processing]
acronym_folding = false
capitalization = false
`)
	snap, err := Load(path)
	require.NoError(t, err)
	require.False(t, snap.AcronymFolding)
	require.False(t, snap.Capitalization)
}

func TestLoadCanExplicitlyEnablePostProcessingToggles(t *testing.T) {
	path := writeConfig(t, `
[post_processing]
acronym_folding = true
capitalization = true
grammar_pass = true
`)
	snap, err := Load(path)
	require.NoError(t, err)
	require.True(t, snap.AcronymFolding)
	require.True(t, snap.Capitalization)
	require.True(t, snap.GrammarPass)
}

func TestLoadRejectsInvalidSampleRate(t *testing.T) {
	path := writeConfig(t, `
[daemon]
sample_rate = -1
`)
	_, err := Load(path)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindConfigInvalid))
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	path := writeConfig(t, `not valid toml {{{`)
	_, err := Load(path)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindConfigInvalid))
}

func TestStoreReloadSwapsSnapshotOnSuccess(t *testing.T) {
	path := writeConfig(t, `
[daemon]
language = "en"
`)
	store := NewStore(Default())

	path2 := writeConfig(t, `
[daemon]
language = "fr"
`)
	require.NoError(t, store.Reload(path2))
	require.Equal(t, "fr", store.Current().Language)
	_ = path
}

func TestStoreReloadLeavesCurrentSnapshotOnFailure(t *testing.T) {
	store := NewStore(Default())
	badPath := writeConfig(t, "[daemon]\nsample_rate = -1\n")

	err := store.Reload(badPath)
	require.Error(t, err)
	require.Equal(t, Default(), store.Current())
}
