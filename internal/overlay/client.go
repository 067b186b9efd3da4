package overlay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"

	"github.com/rhue-dev/voicedictated/internal/audio"
)

// Client dials C10's two broadcast sockets and keeps the latest audio
// frame and state snapshot available for the render loop to poll,
// coalescing bursts per spec.md §4.11 ("reads the latest available audio
// frame (coalescing if multiple arrived) and the latest state snapshot").
type Client struct {
	mu          sync.Mutex
	latestFrame audio.Frame
	haveFrame   bool
	latestState StateUpdate
	haveState   bool

	log *slog.Logger
}

// NewClient returns an empty Client; call DialAudio/DialState to start
// consuming each socket (they may be dialed independently and reconnect
// on disconnect is the caller's responsibility, matching spec.md's "client
// reconnects are accepted at any time").
func NewClient() *Client {
	return &Client{log: slog.Default().With("component", "overlay.client")}
}

// DialAudio connects to the audio broadcast socket and reads frames until
// conn closes or ctx-like cancellation occurs via conn.Close from the
// caller.
func (c *Client) DialAudio(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("overlay: dial audio socket: %w", err)
	}
	go c.readAudio(conn)
	return conn, nil
}

// DialState connects to the state broadcast socket and reads length-
// prefixed JSON state updates until conn closes.
func (c *Client) DialState(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("overlay: dial state socket: %w", err)
	}
	go c.readState(conn)
	return conn, nil
}

func (c *Client) readAudio(conn net.Conn) {
	buf := make([]byte, audio.FrameSamples*4)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			if err != io.EOF {
				c.log.Warn("audio socket read failed", "err", err)
			}
			return
		}
		var f audio.Frame
		for i := 0; i < audio.FrameSamples; i++ {
			bits := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
			f.Samples[i] = math.Float32frombits(bits)
		}
		c.mu.Lock()
		c.latestFrame = f
		c.haveFrame = true
		c.mu.Unlock()
	}
}

func (c *Client) readState(conn net.Conn) {
	r := bufio.NewReader(conn)
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err != io.EOF {
				c.log.Warn("state socket read header failed", "err", err)
			}
			return
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			c.log.Warn("state socket read payload failed", "err", err)
			return
		}
		var u StateUpdate
		if err := json.Unmarshal(payload, &u); err != nil {
			c.log.Warn("state socket decode failed", "err", err)
			continue
		}
		c.mu.Lock()
		c.latestState = u
		c.haveState = true
		c.mu.Unlock()
	}
}

// LatestFrame returns the most recently received audio frame and whether
// one has arrived yet.
func (c *Client) LatestFrame() (audio.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestFrame, c.haveFrame
}

// LatestState returns the most recently received state update and whether
// one has arrived yet.
func (c *Client) LatestState() (StateUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestState, c.haveState
}
