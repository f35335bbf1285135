package transport

import (
	"io"

	"reqrep-rpc/merr"
	"reqrep-rpc/metrics"
	"reqrep-rpc/protocol"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
)

// framer turns bodies into protocol frames and back, compressing on the way out
// when enabled. Decompression is always available since the peer decides.
type framer struct {
	zc         *zstdCompressor
	compress   bool
	maxBodyLen uint32
	side       string // metrics label
}

func newFramer(cfg Config, side string) (*framer, error) {
	zc, err := newZstdCompressor(cfg.CompressThreshold, cfg.MaxBodyLen)
	if err != nil {
		return nil, errors.Wrap(err, "init zstd")
	}
	return &framer{zc: zc, compress: cfg.Compress, maxBodyLen: cfg.MaxBodyLen, side: side}, nil
}

func (f *framer) write(w io.Writer, msgType protocol.MsgType, seq uint32, body []byte) error {
	h := protocol.Header{MsgType: msgType, Seq: seq}
	if f.compress {
		var ok bool
		if body, ok = f.zc.compress(body); ok {
			h.Flags |= protocol.FlagCompressed
		}
	}
	if err := protocol.Encode(w, &h, body); err != nil {
		return err
	}
	metrics.TransportBytes.WithLabelValues(f.side, metrics.DirectionOut).Add(float64(protocol.HeaderSize + len(body)))
	return nil
}

func (f *framer) read(r io.Reader) (*protocol.Header, []byte, error) {
	h, body, err := protocol.DecodeWithLimit(r, f.maxBodyLen)
	if err != nil {
		return nil, nil, err
	}
	metrics.TransportBytes.WithLabelValues(f.side, metrics.DirectionIn).Add(float64(protocol.HeaderSize + len(body)))
	if h.Compressed() {
		if body, err = f.zc.decompress(body); err != nil {
			if errors.IsAny(err, zstd.ErrDecoderSizeExceeded, zstd.ErrWindowSizeExceeded) {
				return nil, nil, errors.Wrapf(merr.ErrFrameTooLarge, "decompressed body over limit=%d", f.maxBodyLen)
			}
			return nil, nil, errors.Wrap(err, "decompress body")
		}
		if f.maxBodyLen > 0 && uint32(len(body)) > f.maxBodyLen {
			return nil, nil, merr.WrapErrFrameTooLarge(uint32(len(body)), f.maxBodyLen)
		}
	}
	return h, body, nil
}

func (f *framer) close() {
	f.zc.close()
}
