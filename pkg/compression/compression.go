package compression

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Algorithm represents a compression algorithm
type Algorithm byte

const (
	// AlgorithmNone stores data as is
	AlgorithmNone Algorithm = iota
	// AlgorithmSnappy is fast compression with moderate ratio, used for
	// individual documents
	AlgorithmSnappy
	// AlgorithmZstd is balanced compression with good speed and ratio, used
	// for whole snapshots
	AlgorithmZstd
)

// ErrCorruptFrame is returned when a frame is empty or names an unknown
// algorithm
var ErrCorruptFrame = errors.New("corrupt compression frame")

// String returns the string representation of the algorithm
func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a configuration name to an algorithm
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "none":
		return AlgorithmNone, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd":
		return AlgorithmZstd, nil
	}
	return AlgorithmNone, fmt.Errorf("unknown compression algorithm %q", name)
}

// Config holds compression configuration
type Config struct {
	Algorithm Algorithm
	Level     int // zstd level, 1 (fastest) to 19 (best)
}

// DefaultConfig returns the default compression configuration (Zstd with default level)
func DefaultConfig() *Config {
	return &Config{
		Algorithm: AlgorithmZstd,
		Level:     3,
	}
}

// SnappyConfig returns configuration for Snappy (fast compression)
func SnappyConfig() *Config {
	return &Config{Algorithm: AlgorithmSnappy}
}

// ZstdConfig returns configuration for Zstd
func ZstdConfig(level int) *Config {
	if level < 1 || level > 19 {
		level = 3
	}
	return &Config{
		Algorithm: AlgorithmZstd,
		Level:     level,
	}
}

// Compressor writes self-describing frames: one algorithm byte followed by
// the payload. Decompress reads any frame regardless of the compressor's own
// algorithm, so the algorithm can change between writes. A Compressor is
// safe for concurrent use.
type Compressor struct {
	config  *Config
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
}

// NewCompressor creates a new compressor with the given configuration
func NewCompressor(config *Config) (*Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	switch config.Algorithm {
	case AlgorithmNone, AlgorithmSnappy, AlgorithmZstd:
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %v", config.Algorithm)
	}

	c := &Compressor{config: config}

	var err error
	level := config.Level
	if level == 0 {
		level = 3
	}
	c.zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	c.zstdDec, err = zstd.NewReader(nil)
	if err != nil {
		c.zstdEnc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return c, nil
}

// Algorithm returns the algorithm used for new frames
func (c *Compressor) Algorithm() Algorithm {
	return c.config.Algorithm
}

// Compress wraps data in a frame
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	out := []byte{byte(c.config.Algorithm)}
	switch c.config.Algorithm {
	case AlgorithmNone:
		return append(out, data...), nil
	case AlgorithmSnappy:
		return append(out, snappy.Encode(nil, data)...), nil
	case AlgorithmZstd:
		return c.zstdEnc.EncodeAll(data, out), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %v", c.config.Algorithm)
	}
}

// Decompress unwraps a frame written by any Compressor
func (c *Compressor) Decompress(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrCorruptFrame
	}
	payload := frame[1:]
	switch Algorithm(frame[0]) {
	case AlgorithmNone:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case AlgorithmSnappy:
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snappy: %w", err)
		}
		return decoded, nil
	case AlgorithmZstd:
		decoded, err := c.zstdDec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode zstd: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: algorithm byte %d", ErrCorruptFrame, frame[0])
	}
}

// Close closes the compressor and releases resources
func (c *Compressor) Close() error {
	c.zstdEnc.Close()
	c.zstdDec.Close()
	return nil
}

// CompressionRatio calculates the compression ratio
func CompressionRatio(originalSize, compressedSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	return float64(compressedSize) / float64(originalSize)
}
