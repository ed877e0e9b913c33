package protocol

import (
	"encoding/binary"
	"errors"
)

var be = binary.BigEndian

// Decode failure modes. Receivers drop the datagram and keep draining;
// neither error reaches the collaborator boundary.
var (
	ErrShortPacket      = errors.New("datagram shorter than the fixed layout")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Checksum returns the unsigned 16-bit truncated sum of b. It guards
// against accidental corruption only; it is not a security mechanism.
func Checksum(b []byte) uint16 {
	var sum uint32
	for _, v := range b {
		sum += uint32(v)
	}
	return uint16(sum)
}

// Encode serializes a snapshot into a freshly allocated wire buffer of
// PacketSize bytes. With useChecksum off the trailing checksum field is
// left zero, which receivers treat as "sender had checksum mode off".
func Encode(s *Snapshot, useChecksum bool) []byte {
	buf := make([]byte, PacketSize)
	w := payloadWriter{buf: buf}
	for _, f := range payloadFields {
		switch f.kind {
		case fieldCoord:
			w.putU16(uint16(Quantize(*f.coord(s))))
		case fieldU8:
			w.putU8(*f.u8(s))
		case fieldI8:
			w.putU8(uint8(*f.i8(s)))
		case fieldU16:
			w.putU16(*f.u16(s))
		case fieldName:
			w.putName(*f.str(s))
		}
	}
	if useChecksum {
		be.PutUint16(buf[PayloadSize:], Checksum(buf[:PayloadSize]))
	}
	return buf
}

// Decode parses a received datagram. Verification runs only when the
// receiver has checksum mode on AND the declared checksum is nonzero: a
// zero checksum is accepted unconditionally so peers running with
// checksum off stay compatible, at the cost of not detecting corruption
// in that case. Trailing bytes beyond PacketSize are ignored.
func Decode(buf []byte, useChecksum bool) (Snapshot, error) {
	if len(buf) < PacketSize {
		return Snapshot{}, ErrShortPacket
	}
	declared := be.Uint16(buf[PayloadSize:PacketSize])
	if useChecksum && declared != 0 && declared != Checksum(buf[:PayloadSize]) {
		return Snapshot{}, ErrChecksumMismatch
	}

	var s Snapshot
	r := payloadReader{buf: buf}
	for _, f := range payloadFields {
		switch f.kind {
		case fieldCoord:
			*f.coord(&s) = Dequantize(int16(r.u16()))
		case fieldU8:
			*f.u8(&s) = r.u8()
		case fieldI8:
			*f.i8(&s) = int8(r.u8())
		case fieldU16:
			*f.u16(&s) = r.u16()
		case fieldName:
			*f.str(&s) = r.name()
		}
	}
	return s, nil
}

// payloadWriter appends fixed-width fields into a preallocated buffer.
type payloadWriter struct {
	buf []byte
	off int
}

func (w *payloadWriter) putU8(v uint8) {
	w.buf[w.off] = v
	w.off++
}

func (w *payloadWriter) putU16(v uint16) {
	be.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

// putName writes a zero-padded fixed-width name. At most NameBytes-1
// bytes of the string are copied, so the field is always terminated.
func (w *payloadWriter) putName(s string) {
	n := copy(w.buf[w.off:w.off+NameBytes-1], s)
	for i := n; i < NameBytes; i++ {
		w.buf[w.off+i] = 0
	}
	w.off += NameBytes
}

// payloadReader consumes fixed-width fields from a received buffer.
type payloadReader struct {
	buf []byte
	off int
}

func (r *payloadReader) u8() uint8 {
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *payloadReader) u16() uint16 {
	v := be.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *payloadReader) name() string {
	field := r.buf[r.off : r.off+NameBytes]
	r.off += NameBytes
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	// No terminator on the wire; the last byte is dropped so a hostile
	// sender cannot smuggle an unterminated name through.
	return string(field[:NameBytes-1])
}
