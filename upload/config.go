package upload

import (
	"fmt"

	"github.com/shipper/shippy/checksum"
)

// DefaultChunkSize is the maximum number of bytes sent per chunk.
const DefaultChunkSize int64 = 10_000_000

// Config holds configuration for uploads.
type Config struct {
	// ChunkSize is the maximum number of bytes per PUT.
	// Default: 10 MB (10,000,000 bytes)
	ChunkSize int64

	// Algorithm overrides the digest algorithm declared by the server.
	// Default: empty, the server's /system/info is asked once per upload
	Algorithm checksum.Algorithm

	// DisableAfterUpload disables the build on the server right after it was finalized.
	DisableAfterUpload bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	return nil
}
