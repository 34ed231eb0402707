package backend

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionThreshold is the minimum value size before compression is considered.
	// 2KB threshold - zstd overhead not worth it for smaller payloads.
	CompressionThreshold = 2048

	// MaxDecompressedSize is the hard cap during decompression to prevent compression bombs.
	MaxDecompressedSize = 16 * 1024 * 1024 // 16MB
)

// Encoding markers prefixed to every stored value.
const (
	encodingIdentity byte = 0x00
	encodingZstd     byte = 0x01
)

var (
	// ErrDecompressionBomb is returned when decompressed size exceeds limit.
	ErrDecompressionBomb = errors.New("decompressed value exceeds maximum size")

	// ErrCorrupted is returned when a stored value cannot be decoded.
	ErrCorrupted = errors.New("stored value is corrupted")
)

// Codec encodes stored values with an optional zstd compression step.
// Encoder and decoder are goroutine-safe and can be reused.
type Codec struct {
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	compress bool
	mu       sync.RWMutex
}

// NewCodec creates a codec. When compress is false values are stored as-is
// (with a one byte marker) but compressed values can still be read.
func NewCodec(compress bool) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Codec{
		encoder:  enc,
		decoder:  dec,
		compress: compress,
	}, nil
}

// Close releases encoder/decoder resources.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// Encode returns the stored form of value, compressing it when that is enabled and beneficial.
func (c *Codec) Encode(value string) []byte {
	if c.compress && len(value) >= CompressionThreshold {
		c.mu.RLock()
		enc := c.encoder
		c.mu.RUnlock()

		if enc != nil {
			out := make([]byte, 1, len(value)/2+1)
			out[0] = encodingZstd
			out = enc.EncodeAll([]byte(value), out)
			if len(out) < len(value)+1 {
				return out
			}
		}
	}

	out := make([]byte, len(value)+1)
	out[0] = encodingIdentity
	copy(out[1:], value)
	return out
}

// Decode reverses Encode.
func (c *Codec) Decode(stored []byte) (string, error) {
	if len(stored) == 0 {
		return "", ErrCorrupted
	}

	switch stored[0] {
	case encodingIdentity:
		return string(stored[1:]), nil
	case encodingZstd:
	default:
		return "", fmt.Errorf("%w: unknown encoding 0x%02x", ErrCorrupted, stored[0])
	}

	c.mu.RLock()
	dec := c.decoder
	c.mu.RUnlock()

	if dec == nil {
		return "", errors.New("decoder not initialized")
	}

	decompressed, err := dec.DecodeAll(stored[1:], nil)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
			return "", ErrDecompressionBomb
		}
		return "", fmt.Errorf("%w: decompressing value: %v", ErrCorrupted, err)
	}
	if len(decompressed) > MaxDecompressedSize {
		return "", ErrDecompressionBomb
	}
	return string(decompressed), nil
}
