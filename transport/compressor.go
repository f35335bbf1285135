package transport

import (
	"github.com/klauspost/compress/zstd"
)

// zstdCompressor holds its own encoder and decoder; EncodeAll and DecodeAll are
// safe for concurrent use.
type zstdCompressor struct {
	enc             *zstd.Encoder
	dec             *zstd.Decoder
	minCompressSize int
}

// maxDecodedSize caps what one frame may decompress to; 0 leaves it unbounded.
func newZstdCompressor(minCompressSize int, maxDecodedSize uint32) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithZeroFrames(true),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}
	decOpts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if maxDecodedSize > 0 {
		decOpts = append(decOpts, zstd.WithDecoderMaxMemory(uint64(maxDecodedSize)))
	}
	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		enc.Close()
		return nil, err
	}
	if minCompressSize < 0 {
		minCompressSize = 0
	}
	return &zstdCompressor{enc: enc, dec: dec, minCompressSize: minCompressSize}, nil
}

// compress returns src untouched and false when src is under the threshold.
func (c *zstdCompressor) compress(src []byte) ([]byte, bool) {
	if c == nil || len(src) < c.minCompressSize {
		return src, false
	}
	return c.enc.EncodeAll(src, nil), true
}

func (c *zstdCompressor) decompress(src []byte) ([]byte, error) {
	return c.dec.DecodeAll(src, nil)
}

func (c *zstdCompressor) close() {
	if c == nil {
		return
	}
	_ = c.enc.Close()
	c.dec.Close()
}
