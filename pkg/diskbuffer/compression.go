package diskbuffer

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how record payloads are compressed before framing.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// Low nibble of the frame flags.
const (
	flagCompressionMask uint8 = 0x0f

	flagNone uint8 = 0
	flagZstd uint8 = 1
	flagLZ4  uint8 = 2
)

func (c Compression) valid() bool {
	switch c {
	case "", CompressionNone, CompressionZstd, CompressionLZ4:
		return true
	}
	return false
}

// payloadCodec compresses on the write path and decompresses on the read path.
// Decoders are created lazily because data written under a previous
// configuration may use a different codec than the current one.
type payloadCodec struct {
	mode Compression

	encOnce sync.Once
	zenc    *zstd.Encoder
	encErr  error

	decOnce sync.Once
	zdec    *zstd.Decoder
	decErr  error
}

func newPayloadCodec(mode Compression) (*payloadCodec, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, mode)
	}
	if mode == "" {
		mode = CompressionNone
	}
	return &payloadCodec{mode: mode}, nil
}

// compress returns the frame flags and the bytes to store. Payloads that do
// not shrink are stored as-is.
func (c *payloadCodec) compress(payload []byte) (uint8, []byte, error) {
	if len(payload) == 0 {
		return flagNone, payload, nil
	}

	var (
		flag uint8
		out  []byte
	)
	switch c.mode {
	case CompressionNone:
		return flagNone, payload, nil
	case CompressionZstd:
		c.encOnce.Do(func() {
			c.zenc, c.encErr = zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.SpeedFastest),
				zstd.WithEncoderConcurrency(1))
		})
		if c.encErr != nil {
			return 0, nil, fmt.Errorf("create zstd encoder: %w", c.encErr)
		}
		flag, out = flagZstd, c.zenc.EncodeAll(payload, nil)
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return 0, nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return 0, nil, fmt.Errorf("lz4 compress: %w", err)
		}
		flag, out = flagLZ4, buf.Bytes()
	default:
		return 0, nil, fmt.Errorf("%w: %q", ErrUnknownCompression, c.mode)
	}

	if len(out) >= len(payload) {
		return flagNone, payload, nil
	}
	return flag, out, nil
}

func (c *payloadCodec) decompress(flags uint8, payload []byte) ([]byte, error) {
	switch flags & flagCompressionMask {
	case flagNone:
		return payload, nil
	case flagZstd:
		c.decOnce.Do(func() {
			c.zdec, c.decErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		})
		if c.decErr != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", c.decErr)
		}
		out, err := c.zdec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case flagLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: flag %#x", ErrUnknownCompression, flags)
	}
}

func (c *payloadCodec) close() {
	if c.zenc != nil {
		_ = c.zenc.Close()
	}
	if c.zdec != nil {
		c.zdec.Close()
	}
}
