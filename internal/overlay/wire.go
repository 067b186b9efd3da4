package overlay

import (
	"encoding/binary"
	"fmt"
	"io"
)

// message is one Wayland wire-protocol request or event: a fixed 8-byte
// header (object id, opcode, size) followed by arguments. This is a
// minimal hand-rolled subset of the protocol (object creation, the integer
// and string argument types this package needs) — not a
// generated client from wayland.xml, since no Go Wayland client binding
// exists in the example pack. Grounded on the same length-prefixed binary
// framing style as internal/broadcast's hand-rolled socket protocol.
type message struct {
	object uint32
	opcode uint16
	args   []byte
}

// encode serializes the message onto w. Wayland requires every message's
// total size (including the 8-byte header) to be a multiple of 4.
func (m message) encode(w io.Writer) error {
	size := 8 + len(m.args)
	if size%4 != 0 {
		return fmt.Errorf("overlay: wire message size %d not 4-byte aligned", size)
	}
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], m.object)
	binary.LittleEndian.PutUint16(hdr[4:6], m.opcode)
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(size))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(m.args) > 0 {
		if _, err := w.Write(m.args); err != nil {
			return err
		}
	}
	return nil
}

// readMessage reads one message's header and argument bytes from r.
func readMessage(r io.Reader) (message, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return message{}, err
	}
	object := binary.LittleEndian.Uint32(hdr[0:4])
	opcode := binary.LittleEndian.Uint16(hdr[4:6])
	size := binary.LittleEndian.Uint16(hdr[6:8])
	args := make([]byte, int(size)-8)
	if len(args) > 0 {
		if _, err := io.ReadFull(r, args); err != nil {
			return message{}, err
		}
	}
	return message{object: object, opcode: opcode, args: args}, nil
}

// argsBuilder accumulates Wayland wire argument bytes (uint, int, and
// nul-padded strings — the only argument kinds this package's requests
// use).
type argsBuilder struct {
	buf []byte
}

func (b *argsBuilder) putUint(v uint32) *argsBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *argsBuilder) putInt(v int32) *argsBuilder {
	return b.putUint(uint32(v))
}

func (b *argsBuilder) putString(s string) *argsBuilder {
	n := len(s) + 1 // Wayland strings are nul-terminated
	b.putUint(uint32(n))
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	for len(b.buf)%4 != 0 {
		b.buf = append(b.buf, 0)
	}
	return b
}

func (b *argsBuilder) bytes() []byte { return b.buf }
