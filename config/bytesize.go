package config

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
)

// ByteSize is a size given in human form: "10MB" is 10,000,000 bytes, "8MiB" is 8,388,608 bytes,
// a plain number is bytes.
type ByteSize int64

// ParseByteSize parses a human readable size.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	lower := strings.ToLower(s)
	var size int64
	var err error
	if strings.HasSuffix(lower, "ib") {
		// RAMInBytes reads "8MB" as binary units.
		size, err = units.RAMInBytes(s[:len(s)-2] + s[len(s)-1:])
	} else {
		size, err = units.FromHumanSize(s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("size must be positive: %q", s)
	}

	return ByteSize(size), nil
}

// String ...
func (b ByteSize) String() string {
	return units.HumanSize(float64(b))
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 {
	return int64(b)
}
