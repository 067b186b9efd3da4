// Package broadcast implements the design's C10 overlay broadcaster: two
// local Unix sockets, one streaming raw audio frames for the overlay's
// spectrum view and one streaming length-prefixed UI state snapshots,
// spec.md §4.10.
//
// Framing for both sockets is hand-rolled little-endian binary, the same
// style as the teacher's transport.go length-prefixed control/audio
// messages, since no third-party framing library in the pack fits a
// bespoke two-socket local broadcast like this.
package broadcast

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"net"
	"os"
	"sync"

	"github.com/rhue-dev/voicedictated/internal/audio"
	"github.com/rhue-dev/voicedictated/internal/errs"
)

// DefaultStateQueueDepth is the bounded in-memory queue depth per connected
// state-socket client (spec.md §4.10: "default 16 messages").
const DefaultStateQueueDepth = 16

// AudioBroadcaster publishes AudioFrame values to every connected client of
// the audio socket as a fixed-size binary blob (FrameSamples * 4 bytes,
// little-endian float32). Sends are non-blocking: a slow client drops the
// frame rather than stalling the broadcaster.
type AudioBroadcaster struct {
	mu      sync.Mutex
	clients map[net.Conn]chan []byte
	log     *slog.Logger
}

// NewAudioBroadcaster returns an empty AudioBroadcaster.
func NewAudioBroadcaster() *AudioBroadcaster {
	return &AudioBroadcaster{
		clients: make(map[net.Conn]chan []byte),
		log:     slog.Default().With("component", "broadcast.audio"),
	}
}

// Serve accepts connections on ln until ctx is cancelled.
func (b *AudioBroadcaster) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		b.addClient(ctx, conn)
	}
}

func (b *AudioBroadcaster) addClient(ctx context.Context, conn net.Conn) {
	ch := make(chan []byte, 1)
	b.mu.Lock()
	b.clients[conn] = ch
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			b.mu.Unlock()
			conn.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case buf, ok := <-ch:
				if !ok {
					return
				}
				if _, err := conn.Write(buf); err != nil {
					return
				}
			}
		}
	}()
}

// Publish encodes f as little-endian float32 samples and offers it to every
// connected client non-blockingly; a client whose buffer is full simply
// misses this frame (spec.md: "Non-blocking; on would-block, drop the
// frame").
func (b *AudioBroadcaster) Publish(f audio.Frame) {
	buf := make([]byte, audio.FrameSamples*4)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.clients {
		select {
		case ch <- buf:
		default:
		}
	}
}

// StateSnapshot is a JSON shape for a UI state payload. StateBroadcaster
// itself sends whatever bytes Publish is given; the daemon publishes
// orchestrator.Snapshot values, not this type.
type StateSnapshot struct {
	Mode       string  `json:"mode"`
	PartialText string `json:"partial_text,omitempty"`
	FinalText   string `json:"final_text,omitempty"`
}

// StateBroadcaster publishes pre-encoded state payloads to every connected
// client of the state socket, each with a 4-byte length prefix, and never
// sends the same payload twice in a row (spec.md §4.10: "deduplicated; do
// not send identical consecutive payloads"). Each client gets its own
// bounded queue; when full, the oldest queued message is dropped in favor
// of the new one.
type StateBroadcaster struct {
	mu       sync.Mutex
	clients  map[net.Conn]*stateClient
	queueCap int
	last     []byte
	log      *slog.Logger
}

type stateClient struct {
	conn net.Conn
	ch   chan []byte
}

// NewStateBroadcaster returns a StateBroadcaster with the given per-client
// queue depth (DefaultStateQueueDepth if <= 0).
func NewStateBroadcaster(queueDepth int) *StateBroadcaster {
	if queueDepth <= 0 {
		queueDepth = DefaultStateQueueDepth
	}
	return &StateBroadcaster{
		clients:  make(map[net.Conn]*stateClient),
		queueCap: queueDepth,
		log:      slog.Default().With("component", "broadcast.state"),
	}
}

// Serve accepts connections on ln until ctx is cancelled. Every new client
// immediately receives the most recent snapshot in full (spec.md: "plus a
// full state snapshot sent immediately on accept").
func (b *StateBroadcaster) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		b.addClient(ctx, conn)
	}
}

func (b *StateBroadcaster) addClient(ctx context.Context, conn net.Conn) {
	c := &stateClient{conn: conn, ch: make(chan []byte, b.queueCap)}

	b.mu.Lock()
	b.clients[conn] = c
	last := b.last
	b.mu.Unlock()

	if last != nil {
		c.ch <- last
	}

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			b.mu.Unlock()
			conn.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-c.ch:
				if !ok {
					return
				}
				if err := writeFramed(conn, payload); err != nil {
					return
				}
			}
		}
	}()
}

// Publish queues payload as-is to every connected client, dropping
// the oldest queued message per client if its queue is full. Consecutive
// identical payloads are suppressed.
func (b *StateBroadcaster) Publish(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last != nil && string(b.last) == string(payload) {
		return
	}
	b.last = payload

	for _, c := range b.clients {
		for {
			select {
			case c.ch <- payload:
			default:
				select {
				case <-c.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// writeFramed writes a 4-byte little-endian length prefix followed by
// payload.
func writeFramed(conn net.Conn, payload []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

// ListenUnix binds a Unix socket at path with 0600 permissions, matching
// the control socket's permission policy.
func ListenUnix(path string) (net.Listener, error) {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errs.New(errs.KindSocketBindFailed, "broadcast.listen", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, errs.New(errs.KindSocketBindFailed, "broadcast.listen", err)
	}
	return ln, nil
}
