package codec

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
)

var (
	// ErrShortBuffer is returned when a read needs more bytes than remain after the cursor.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrUnsupportedType is returned for values the codec has no encoding for (chan, func, ...).
	ErrUnsupportedType = errors.New("codec: unsupported type")
	// ErrNilValue is returned when encoding a nil pointer or decoding into a nil target.
	ErrNilValue = errors.New("codec: nil value")
)

// Buffer is the positional binary buffer shared by requests and replies.
//
// Writes always append at the end. Reads consume from a cursor that starts at 0,
// so a single Buffer can be filled by the sender and drained by the receiver:
//
//	┌──────────── consumed ────────────┬──────── Current() ────────┐
//	0                                 off                        Size()
//
// All multi-byte values are big-endian (network byte order). A Buffer belongs to
// exactly one message and is not safe for concurrent use.
type Buffer struct {
	data []byte
	off  int // read cursor
}

// NewBuffer wraps data (typically a received frame body) for reading. The cursor starts at 0.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Size returns the total number of bytes written, independent of the cursor.
func (b *Buffer) Size() int { return len(b.data) }

// Data returns the whole underlying byte slice.
func (b *Buffer) Data() []byte { return b.data }

// Current returns the unread tail starting at the cursor. It aliases the buffer.
func (b *Buffer) Current() []byte { return b.data[b.off:] }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.off }

// Offset returns the cursor position.
func (b *Buffer) Offset() int { return b.off }

// Reset rewinds the cursor to 0 without touching the contents.
func (b *Buffer) Reset() { b.off = 0 }

// Clear drops the contents and rewinds the cursor.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.off = 0
}

// WriteRawData splices p verbatim, with no length prefix.
func (b *Buffer) WriteRawData(p []byte) {
	b.data = append(b.data, p...)
}

func (b *Buffer) WriteUint8(v uint8)   { b.data = append(b.data, v) }
func (b *Buffer) WriteUint16(v uint16) { b.data = binary.BigEndian.AppendUint16(b.data, v) }
func (b *Buffer) WriteUint32(v uint32) { b.data = binary.BigEndian.AppendUint32(b.data, v) }
func (b *Buffer) WriteUint64(v uint64) { b.data = binary.BigEndian.AppendUint64(b.data, v) }

func (b *Buffer) WriteInt8(v int8)   { b.WriteUint8(uint8(v)) }
func (b *Buffer) WriteInt16(v int16) { b.WriteUint16(uint16(v)) }
func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }
func (b *Buffer) WriteInt64(v int64) { b.WriteUint64(uint64(v)) }

func (b *Buffer) WriteFloat32(v float32) { b.WriteUint32(math.Float32bits(v)) }
func (b *Buffer) WriteFloat64(v float64) { b.WriteUint64(math.Float64bits(v)) }

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
		return
	}
	b.WriteUint8(0)
}

// WriteString writes a uint32 length followed by the raw bytes of s.
func (b *Buffer) WriteString(s string) {
	b.WriteUint32(uint32(len(s)))
	b.data = append(b.data, s...)
}

// WriteBytes uses the same framing as WriteString.
func (b *Buffer) WriteBytes(p []byte) {
	b.WriteUint32(uint32(len(p)))
	b.data = append(b.data, p...)
}

// next returns the following n unread bytes and advances the cursor.
func (b *Buffer) next(n int) ([]byte, error) {
	if n < 0 || b.Remaining() < n {
		return nil, errors.Wrapf(ErrShortBuffer, "need %d bytes at offset %d, have %d", n, b.off, b.Remaining())
	}
	p := b.data[b.off : b.off+n]
	b.off += n
	return p, nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	p, err := b.next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

func (b *Buffer) ReadInt8() (int8, error) {
	v, err := b.ReadUint8()
	return int8(v), err
}

func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBool treats any non-zero byte as true.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	return v != 0, err
}

func (b *Buffer) ReadString() (string, error) {
	p, err := b.readLenPrefixed()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadBytes returns a copy, so the result stays valid after the buffer is reused.
func (b *Buffer) ReadBytes() ([]byte, error) {
	p, err := b.readLenPrefixed()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

func (b *Buffer) readLenPrefixed() ([]byte, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(b.Remaining()) {
		return nil, errors.Wrapf(ErrShortBuffer, "length prefix %d exceeds remaining %d", n, b.Remaining())
	}
	return b.next(int(n))
}
