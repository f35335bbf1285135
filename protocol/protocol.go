// Package protocol implements the binary frame that carries one request or reply over TCP.
//
// A fixed 14-byte header is followed by a variable-length body. The receiver
// reads the header first to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │fl│mt│   seq   │ bodyLen │    body ...    │
//	│ rrp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// The body is a message.Request or a message.Value envelope, optionally zstd
// compressed (FlagCompressed).
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"reqrep-rpc/merr"
)

// Magic number bytes: "rrp" (request/reply protocol).
const (
	MagicNumber byte = 0x72 // 'r'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (flags) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// DefaultMaxBodyLen bounds the allocation made for a single frame body.
	DefaultMaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes request and reply frames.
type MsgType byte

const (
	MsgTypeRequest MsgType = 0 // Client → Server
	MsgTypeReply   MsgType = 1 // Server → Client
)

// Flag bits.
const (
	FlagCompressed byte = 1 << 0 // body is zstd compressed
	flagMask            = FlagCompressed
)

// Header is the fixed 14-byte frame header.
type Header struct {
	Flags   byte
	MsgType MsgType
	Seq     uint32 // a reply echoes the Seq of its request
	BodyLen uint32
}

func (h *Header) Compressed() bool {
	return h.Flags&FlagCompressed != 0
}

// Encode writes a complete frame (header + body) to w.
// Header and body go out in one Write so a frame is never split between writers.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.Flags
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	buf = append(buf, body...)

	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame from r with the default body limit.
func Decode(r io.Reader) (*Header, []byte, error) {
	return DecodeWithLimit(r, DefaultMaxBodyLen)
}

// DecodeWithLimit reads a complete frame from r.
// It validates the magic number, version, flags, message type and body length.
func DecodeWithLimit(r io.Reader, maxBodyLen uint32) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4]&^flagMask != 0 {
		return nil, nil, fmt.Errorf("unsupported flags: %08b", headerBuf[4])
	}

	msgType := headerBuf[5]
	if msgType != byte(MsgTypeRequest) && msgType != byte(MsgTypeReply) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if maxBodyLen > 0 && bodyLen > maxBodyLen {
		return nil, nil, merr.WrapErrFrameTooLarge(bodyLen, maxBodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		Flags:   headerBuf[4],
		MsgType: MsgType(msgType),
		Seq:     seq,
		BodyLen: bodyLen,
	}, body, nil
}
