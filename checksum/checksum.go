// Package checksum computes content digests of build files and reads the checksum
// sidecar files that are shipped next to them.
package checksum

import (
	"bufio"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm is a digest algorithm identifier as advertised by the server.
type Algorithm string

// Supported algorithms.
const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// SidecarAlgorithms lists the algorithms a checksum sidecar may be named after, in lookup order.
var SidecarAlgorithms = []Algorithm{MD5, SHA256}

// Normalize lower-cases and trims an identifier received from the server.
func Normalize(alg string) Algorithm {
	return Algorithm(strings.ToLower(strings.TrimSpace(alg)))
}

// Supported reports whether this build can compute digests for alg.
func Supported(alg Algorithm) bool {
	_, ok := newHash(Normalize(string(alg)))
	return ok
}

func newHash(alg Algorithm) (hash.Hash, bool) {
	switch alg {
	case MD5:
		return md5.New(), true
	case SHA256:
		return sha256.New(), true
	case BLAKE3:
		return blake3.New(), true
	default:
		return nil, false
	}
}

// Digest returns the hex-encoded digest of the file at path.
// ok is false (and err nil) when alg is not supported, so callers can tell
// "unknown algorithm" apart from an I/O failure.
func Digest(path string, alg Algorithm) (digest string, ok bool, err error) {
	h, ok := newHash(Normalize(string(alg)))
	if !ok {
		return "", false, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", true, err
	}
	defer file.Close() //nolint:errcheck

	if _, err := io.Copy(h, file); err != nil {
		return "", true, fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), true, nil
}

// DigestReader is like Digest but hashes an arbitrary stream.
func DigestReader(r io.Reader, alg Algorithm) (string, bool, error) {
	h, ok := newHash(Normalize(string(alg)))
	if !ok {
		return "", false, nil
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", true, err
	}
	return hex.EncodeToString(h.Sum(nil)), true, nil
}

// ReadExpectedDigest returns the first whitespace-delimited token of the first line of a
// checksum file in the conventional `<hash>  <filename>` layout.
func ReadExpectedDigest(checksumPath string) (string, error) {
	file, err := os.Open(checksumPath)
	if err != nil {
		return "", err
	}
	defer file.Close() //nolint:errcheck

	reader := bufio.NewReader(file)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read %s: %w", checksumPath, err)
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("no checksum found in %s", checksumPath)
	}

	return fields[0], nil
}
