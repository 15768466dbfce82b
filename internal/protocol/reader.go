package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTruncated is returned when a message ends before a field is complete.
var ErrTruncated = errors.New("truncated message")

// PacketReader decodes big-endian values from a byte slice.
// It never reads past the end of its buffer.
type PacketReader struct {
	data []byte
	off  int
}

// NewPacketReader creates a reader over data starting at offset 0.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{data: data}
}

// Offset returns the number of bytes consumed so far.
func (r *PacketReader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *PacketReader) Remaining() int { return len(r.data) - r.off }

func (r *PacketReader) take(n int, field string) ([]byte, error) {
	if n < 0 || r.off < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d",
			ErrTruncated, field, n, r.off, r.Remaining())
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadUint8 reads a single byte.
func (r *PacketReader) ReadUint8() (uint8, error) {
	b, err := r.take(1, "u8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt8 reads a signed byte.
func (r *PacketReader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

// ReadBool reads a byte and reports whether it is non-zero.
func (r *PacketReader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

// ReadUint16 reads a big-endian uint16.
func (r *PacketReader) ReadUint16() (uint16, error) {
	b, err := r.take(2, "u16")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadInt16 reads a big-endian int16.
func (r *PacketReader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads a big-endian uint32.
func (r *PacketReader) ReadUint32() (uint32, error) {
	b, err := r.take(4, "u32")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadInt32 reads a big-endian int32.
func (r *PacketReader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadFloat32 reads a big-endian IEEE-754 float32 bit-exactly.
func (r *PacketReader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadVec2 reads x then y.
func (r *PacketReader) ReadVec2() (Vec2, error) {
	x, err := r.ReadFloat32()
	if err != nil {
		return Vec2{}, err
	}
	y, err := r.ReadFloat32()
	if err != nil {
		return Vec2{}, err
	}
	return Vec2{X: x, Y: y}, nil
}

// ReadString reads a u32 length followed by that many raw bytes.
func (r *PacketReader) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.Remaining()) {
		return "", fmt.Errorf("%w: string of %d bytes at offset %d, have %d",
			ErrTruncated, n, r.off, r.Remaining())
	}
	b, err := r.take(int(n), "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Offset-style helpers. Each decodes one value at off and returns the
// offset just past it.

// DecodeUint8 decodes a u8 at off.
func DecodeUint8(buf []byte, off int) (uint8, int, error) {
	r := &PacketReader{data: buf, off: off}
	v, err := r.ReadUint8()
	return v, r.off, err
}

// DecodeInt8 decodes an i8 at off.
func DecodeInt8(buf []byte, off int) (int8, int, error) {
	r := &PacketReader{data: buf, off: off}
	v, err := r.ReadInt8()
	return v, r.off, err
}

// DecodeUint16 decodes a u16 at off.
func DecodeUint16(buf []byte, off int) (uint16, int, error) {
	r := &PacketReader{data: buf, off: off}
	v, err := r.ReadUint16()
	return v, r.off, err
}

// DecodeInt16 decodes an i16 at off.
func DecodeInt16(buf []byte, off int) (int16, int, error) {
	r := &PacketReader{data: buf, off: off}
	v, err := r.ReadInt16()
	return v, r.off, err
}

// DecodeUint32 decodes a u32 at off.
func DecodeUint32(buf []byte, off int) (uint32, int, error) {
	r := &PacketReader{data: buf, off: off}
	v, err := r.ReadUint32()
	return v, r.off, err
}

// DecodeInt32 decodes an i32 at off.
func DecodeInt32(buf []byte, off int) (int32, int, error) {
	r := &PacketReader{data: buf, off: off}
	v, err := r.ReadInt32()
	return v, r.off, err
}

// DecodeFloat32 decodes an f32 at off.
func DecodeFloat32(buf []byte, off int) (float32, int, error) {
	r := &PacketReader{data: buf, off: off}
	v, err := r.ReadFloat32()
	return v, r.off, err
}

// DecodeString decodes a length-prefixed string at off.
func DecodeString(buf []byte, off int) (string, int, error) {
	r := &PacketReader{data: buf, off: off}
	v, err := r.ReadString()
	if err != nil {
		return "", off, err
	}
	return v, r.off, nil
}
