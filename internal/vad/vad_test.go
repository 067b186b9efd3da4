package vad

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rhue-dev/voicedictated/internal/audio"
)

func loudFrame() audio.Frame {
	var f audio.Frame
	for i := range f.Samples {
		if i%2 == 0 {
			f.Samples[i] = 0.8
		} else {
			f.Samples[i] = -0.8
		}
	}
	return f
}

func silentFrame() audio.Frame {
	return audio.Frame{}
}

func TestSpeechStartRequiresConsecutiveTriggerFrames(t *testing.T) {
	g := New(WithSpeechTrigger(3), WithSilenceTrigger(5), WithPreRollFrames(2))

	require.Nil(t, g.Process(loudFrame()))
	require.Nil(t, g.Process(loudFrame()))
	ev := g.Process(loudFrame())
	require.NotNil(t, ev)
	require.Equal(t, EventSpeechStart, ev.Type)
}

func TestSpeechStartResetsOnIntermittentSilence(t *testing.T) {
	g := New(WithSpeechTrigger(3), WithSilenceTrigger(5))

	require.Nil(t, g.Process(loudFrame()))
	require.Nil(t, g.Process(loudFrame()))
	require.Nil(t, g.Process(silentFrame())) // resets the speech counter
	require.Nil(t, g.Process(loudFrame()))
	require.Nil(t, g.Process(loudFrame()))
	ev := g.Process(loudFrame())
	require.NotNil(t, ev)
	require.Equal(t, EventSpeechStart, ev.Type)
}

func TestSpeechEndRequiresConsecutiveSilenceFrames(t *testing.T) {
	g := New(WithSpeechTrigger(2), WithSilenceTrigger(3))

	require.Nil(t, g.Process(loudFrame()))
	ev := g.Process(loudFrame())
	require.NotNil(t, ev)
	require.Equal(t, EventSpeechStart, ev.Type)

	require.Nil(t, g.Process(silentFrame()))
	require.Nil(t, g.Process(silentFrame()))
	ev = g.Process(silentFrame())
	require.NotNil(t, ev)
	require.Equal(t, EventSpeechEnd, ev.Type)
}

func TestSpeechEndResetsOnIntermittentSpeech(t *testing.T) {
	g := New(WithSpeechTrigger(2), WithSilenceTrigger(3))

	require.Nil(t, g.Process(loudFrame()))
	require.NotNil(t, g.Process(loudFrame()))

	require.Nil(t, g.Process(silentFrame()))
	require.Nil(t, g.Process(silentFrame()))
	require.Nil(t, g.Process(loudFrame())) // resets silence counter
	require.Nil(t, g.Process(silentFrame()))
	require.Nil(t, g.Process(silentFrame()))
	ev := g.Process(silentFrame())
	require.NotNil(t, ev)
	require.Equal(t, EventSpeechEnd, ev.Type)
}

func TestSpeechEndWindowIncludesPreRollAndSegment(t *testing.T) {
	g := New(WithSpeechTrigger(2), WithSilenceTrigger(2), WithPreRollFrames(2))

	require.Nil(t, g.Process(silentFrame())) // pre-roll frame 1
	require.Nil(t, g.Process(silentFrame())) // pre-roll frame 2
	require.Nil(t, g.Process(loudFrame()))
	ev := g.Process(loudFrame())
	require.NotNil(t, ev)
	require.Equal(t, EventSpeechStart, ev.Type)

	require.Nil(t, g.Process(silentFrame()))
	ev = g.Process(silentFrame())
	require.NotNil(t, ev)
	require.Equal(t, EventSpeechEnd, ev.Type)
	// 2 pre-roll silent frames + 2 trigger frames + 2 trailing silent frames.
	require.Len(t, ev.Window, 6)
}

func TestConfirmSegmentClosesEarlyWithoutSilenceTrigger(t *testing.T) {
	g := New(WithSpeechTrigger(1), WithSilenceTrigger(100))

	ev := g.Process(loudFrame())
	require.NotNil(t, ev)
	require.Equal(t, EventSpeechStart, ev.Type)

	window := g.ConfirmSegment()
	require.NotEmpty(t, window)
	require.Equal(t, ModeSpeaking, g.state.Mode) // mode transition is C9's job, not the gate's
}

func TestConfirmSegmentNoopWhenIdle(t *testing.T) {
	g := New()
	require.Nil(t, g.ConfirmSegment())
}

func TestRMSToDBMonotonic(t *testing.T) {
	quiet := RMSToDB(silentFrame().Samples[:])
	loud := RMSToDB(loudFrame().Samples[:])
	require.Less(t, quiet, loud)
	require.Equal(t, dBFloor, quiet)
}
