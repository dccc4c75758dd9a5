package audit

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec compresses archived packs. Encoder and decoder are created
// lazily and reused.
type zstdCodec struct {
	level       zstd.EncoderLevel
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	encoderErr  error
	decoderErr  error
	encoderOnce sync.Once
	decoderOnce sync.Once
}

func newZstdCodec() *zstdCodec {
	return &zstdCodec{level: zstd.SpeedDefault}
}

func (c *zstdCodec) getEncoder() (*zstd.Encoder, error) {
	c.encoderOnce.Do(func() {
		c.encoder, c.encoderErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(c.level),
			zstd.WithEncoderConcurrency(1),
		)
	})
	return c.encoder, c.encoderErr
}

func (c *zstdCodec) getDecoder() (*zstd.Decoder, error) {
	c.decoderOnce.Do(func() {
		c.decoder, c.decoderErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(64*1024*1024),
		)
	})
	return c.decoder, c.decoderErr
}

func (c *zstdCodec) Compress(data []byte) ([]byte, error) {
	enc, err := c.getEncoder()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *zstdCodec) Decompress(data []byte) ([]byte, error) {
	dec, err := c.getDecoder()
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
