package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/rhue-dev/voicedictated/internal/errs"
	"github.com/rhue-dev/voicedictated/internal/ring"
)

// stream abstracts a PortAudio input stream so tests can substitute a fake,
// the same seam the teacher uses for its paStream interface.
type stream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	// Buffer returns the interleaved sample slice that Read fills.
	Buffer() []float32
}

// backoffInitial and backoffCap bound the capture reconnect policy
// (spec.md §4.2: 1s -> 10s cap).
const (
	backoffInitial     = 1 * time.Second
	backoffCap         = 10 * time.Second
	reconnectWindow    = 30 * time.Second
	defaultDeviceIndex = -1
)

// Device describes an available capture device.
type Device struct {
	ID   int
	Name string
}

// ListDevices returns available audio input devices.
func ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audio: list devices: %w", err)
	}
	var out []Device
	for i, d := range devices {
		if d.MaxInputChannels > 0 {
			out = append(out, Device{ID: i, Name: d.Name})
		}
	}
	return out, nil
}

// openFunc abstracts stream construction so tests can inject a fake device
// without touching PortAudio.
type openFunc func(deviceID int) (stream, int, int, error)

// Capture opens the configured input device, resamples/mixes to
// audio.PipelineRate mono, and publishes audio.Frame values into a ring
// buffer shared by every consumer (VAD, overlay broadcaster).
type Capture struct {
	deviceID int
	ring     *ring.Ring[Frame]
	open     openFunc
	log      *slog.Logger

	seq uint64
}

// NewCapture returns a Capture that will publish into r. deviceID selects a
// device from ListDevices, or defaultDeviceIndex for the system default.
func NewCapture(deviceID int, r *ring.Ring[Frame]) *Capture {
	return &Capture{
		deviceID: deviceID,
		ring:     r,
		open:     openPortAudioStream,
		log:      slog.Default().With("component", "audio.capture"),
	}
}

// openPortAudioStream opens a real PortAudio input stream at the device's
// native rate, returning the raw sample buffer it reads into.
func openPortAudioStream(deviceID int) (stream, int, int, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}

	var dev *portaudio.DeviceInfo
	if deviceID >= 0 && deviceID < len(devices) {
		dev = devices[deviceID]
	} else {
		dev, err = portaudio.DefaultInputDevice()
		if err != nil {
			return nil, 0, 0, fmt.Errorf("portaudio: default input device: %w", err)
		}
	}

	const nativeFrames = 1024
	buf := make([]float32, nativeFrames*dev.MaxInputChannels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: dev.MaxInputChannels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      dev.DefaultSampleRate,
		FramesPerBuffer: nativeFrames,
	}
	// portaudio.OpenStream expects a []float32 arg to size its buffer and to
	// read into on each Read() call; nativeBuf below is that same slice.
	nativeBuf := buf
	paStream, err := portaudio.OpenStream(params, nativeBuf)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("portaudio: open stream: %w", err)
	}
	return &paStreamAdapter{s: paStream, buf: nativeBuf}, int(dev.DefaultSampleRate), dev.MaxInputChannels, nil
}

// paStreamAdapter adapts *portaudio.Stream to the stream interface and
// exposes the buffer it reads into.
type paStreamAdapter struct {
	s   *portaudio.Stream
	buf []float32
}

func (a *paStreamAdapter) Start() error { return a.s.Start() }
func (a *paStreamAdapter) Stop() error  { return a.s.Stop() }
func (a *paStreamAdapter) Close() error { return a.s.Close() }
func (a *paStreamAdapter) Read() error  { return a.s.Read() }
func (a *paStreamAdapter) Buffer() []float32 { return a.buf }

// Run opens the device and blocks, publishing frames into the ring until ctx
// is cancelled. On device error it retries with exponential backoff
// (backoffInitial -> backoffCap) for up to reconnectWindow before giving up
// with a *errs.Error of kind KindAudioUnavailable.
func (c *Capture) Run(ctx context.Context) error {
	deadline := time.Now().Add(reconnectWindow)
	backoff := backoffInitial

	for {
		err := c.runOnce(ctx)
		if err == nil {
			return nil // ctx cancelled cleanly
		}
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("capture stream error, retrying", "err", err, "backoff", backoff)
		if time.Now().After(deadline) {
			return errs.New(errs.KindAudioUnavailable, "audio.capture.run", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// runOnce opens the stream once and reads frames until an error or ctx
// cancellation.
func (c *Capture) runOnce(ctx context.Context) error {
	s, srcRate, channels, err := c.open(c.deviceID)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		_ = s.Close()
		return err
	}
	defer func() {
		_ = s.Stop()
		_ = s.Close()
	}()

	nativeBuf := s.Buffer()

	resampler := NewResampler(srcRate, channels)
	var pending []float32

	errCh := make(chan error, 1)
	go func() {
		for {
			if ctx.Err() != nil {
				errCh <- nil
				return
			}
			if err := s.Read(); err != nil {
				errCh <- err
				return
			}
			converted := resampler.Feed(nativeBuf)
			pending = append(pending, converted...)
			for len(pending) >= FrameSamples {
				var f Frame
				copy(f.Samples[:], pending[:FrameSamples])
				f.Seq = c.seq
				c.seq++
				c.ring.Write(f)
				pending = pending[FrameSamples:]
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
