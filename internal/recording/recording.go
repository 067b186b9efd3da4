// Package recording implements the optional session diagnostics recorder:
// every confirmed utterance's audio window is Opus-encoded and written to
// $XDG_STATE_HOME/voice-dictation/sessions/<timestamp>.opus, so a user
// debugging a bad transcription can replay exactly what the recognizer
// heard.
//
// Grounded on the teacher's Opus encoder usage (client/audio.go's
// AudioEngine.Start/send path) via gopkg.in/hraban/opus.v2, repurposed from
// real-time network transmission to a one-shot utterance-to-file encode.
package recording

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/hraban/opus.v2"

	"github.com/rhue-dev/voicedictated/internal/audio"
)

// frameSize20ms is the Opus encoder's frame size at PipelineRate for a 20ms
// frame, the standard Opus frame duration.
const frameSize20ms = audio.PipelineRate / 50

// Recorder encodes utterance audio windows to Opus files under dir.
type Recorder struct {
	dir     string
	bitrate int
}

// New returns a Recorder writing under dir (created if missing).
func New(dir string, bitrate int) *Recorder {
	if bitrate <= 0 {
		bitrate = 24000
	}
	return &Recorder{dir: dir, bitrate: bitrate}
}

// DefaultDir returns $XDG_STATE_HOME/voice-dictation/sessions (falling back
// to ~/.local/state when XDG_STATE_HOME is unset).
func DefaultDir() (string, error) {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "voice-dictation", "sessions"), nil
}

// SaveUtterance Opus-encodes frames and writes them to <dir>/<name>.opus
// as a minimal packet stream, each packet preceded by a 2-byte
// little-endian length (not a full Ogg container, so not a portable .opus
// file for other players). A trailing remainder shorter than one 20 ms
// Opus frame is not encoded.
func (r *Recorder) SaveUtterance(name string, frames []audio.Frame) (string, error) {
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return "", fmt.Errorf("recording: create dir: %w", err)
	}

	enc, err := opus.NewEncoder(audio.PipelineRate, 1, opus.AppVoIP)
	if err != nil {
		return "", fmt.Errorf("recording: new encoder: %w", err)
	}
	if err := enc.SetBitrate(r.bitrate); err != nil {
		return "", fmt.Errorf("recording: set bitrate: %w", err)
	}

	path := filepath.Join(r.dir, name+".opus")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("recording: create file: %w", err)
	}
	defer f.Close()

	pcm := flattenFrames(frames)
	opusBuf := make([]byte, 4000)
	for off := 0; off+frameSize20ms <= len(pcm); off += frameSize20ms {
		n, err := enc.Encode(pcm[off:off+frameSize20ms], opusBuf)
		if err != nil {
			return "", fmt.Errorf("recording: encode: %w", err)
		}
		if err := writePacket(f, opusBuf[:n]); err != nil {
			return "", fmt.Errorf("recording: write packet: %w", err)
		}
	}
	return path, nil
}

// flattenFrames concatenates frames into one contiguous int16 PCM buffer,
// converting from the pipeline's float32 [-1,1] samples.
func flattenFrames(frames []audio.Frame) []int16 {
	out := make([]int16, 0, len(frames)*audio.FrameSamples)
	for _, f := range frames {
		for _, s := range f.Samples {
			out = append(out, floatToInt16(s))
		}
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}

func writePacket(f *os.File, packet []byte) error {
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(packet)))
	if _, err := f.Write(hdr[:]); err != nil {
		return err
	}
	_, err := f.Write(packet)
	return err
}
