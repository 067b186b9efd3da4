package audio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhue-dev/voicedictated/internal/ring"
)

// fakeStream is a deterministic stream double standing in for a real
// PortAudio device, the same substitution the teacher uses for paStream.
type fakeStream struct {
	buf      []float32
	reads    int32
	failErr  error
	failAt   int32
	started  bool
	stopped  bool
	blockCh  chan struct{}
}

func (f *fakeStream) Start() error { f.started = true; return nil }
func (f *fakeStream) Stop() error  { f.stopped = true; return nil }
func (f *fakeStream) Close() error { return nil }
func (f *fakeStream) Buffer() []float32 { return f.buf }
func (f *fakeStream) Read() error {
	n := atomic.AddInt32(&f.reads, 1)
	if f.failErr != nil && n >= f.failAt {
		return f.failErr
	}
	for i := range f.buf {
		f.buf[i] = 0.5
	}
	if f.blockCh != nil {
		<-f.blockCh
	}
	return nil
}

func TestCapturePublishesFramesAtPipelineRate(t *testing.T) {
	r := ring.New[Frame](16)
	c := NewCapture(-1, r)

	fs := &fakeStream{buf: make([]float32, FrameSamples)}
	c.open = func(int) (stream, int, int, error) {
		return fs, PipelineRate, 1, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cur := r.NewCursor()
	require.Eventually(t, func() bool {
		_, _, ok := r.Read(cur)
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.True(t, fs.started)
	require.True(t, fs.stopped)
}

func TestCaptureRunOnceReturnsStreamReadError(t *testing.T) {
	r := ring.New[Frame](4)
	c := NewCapture(-1, r)
	c.open = func(int) (stream, int, int, error) {
		return &fakeStream{buf: make([]float32, FrameSamples), failErr: errors.New("device gone"), failAt: 1}, PipelineRate, 1, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.runOnce(ctx)
	require.Error(t, err)
}
