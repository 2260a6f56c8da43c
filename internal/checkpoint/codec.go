package checkpoint

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// codec compresses code payloads. Encoder and decoder are safe for
// concurrent EncodeAll/DecodeAll use.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec() (*codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithZeroFrames(true))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &codec{encoder: encoder, decoder: decoder}, nil
}

// encode returns an untyped nil for an absent payload so the column
// is bound as NULL.
func (c *codec) encode(s *string) any {
	if s == nil {
		return nil
	}
	return c.encoder.EncodeAll([]byte(*s), nil)
}

func (c *codec) decode(b []byte, valid bool) (*string, error) {
	if !valid {
		return nil, nil
	}
	if len(b) == 0 {
		return strPtr(""), nil
	}
	raw, err := c.decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing code: %w", err)
	}
	return strPtr(string(raw)), nil
}

func (c *codec) close() {
	c.encoder.Close()
	c.decoder.Close()
}
