package checksum

import (
	"fmt"
	"os"
	"strings"
)

// Sidecar describes a checksum file found next to a build.
type Sidecar struct {
	Path      string
	Algorithm Algorithm
	// SumPostfix is true for `<build>.<alg>sum` names, false for `<build>.<alg>`.
	SumPostfix bool
}

// FindSidecar looks for `<build>.md5`, `<build>.md5sum`, `<build>.sha256` and
// `<build>.sha256sum`. When several exist the last one in that order wins.
func FindSidecar(buildPath string) (Sidecar, bool) {
	var found Sidecar
	ok := false

	for _, alg := range SidecarAlgorithms {
		plain := fmt.Sprintf("%s.%s", buildPath, alg)
		summed := fmt.Sprintf("%s.%ssum", buildPath, alg)

		if isFile(plain) {
			found = Sidecar{Path: plain, Algorithm: alg}
			ok = true
		} else if isFile(summed) {
			found = Sidecar{Path: summed, Algorithm: alg, SumPostfix: true}
			ok = true
		}
	}

	return found, ok
}

// MismatchError is returned by Verify when the recomputed digest differs.
type MismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Verify recomputes the digest of buildPath and compares it to the sidecar contents.
func Verify(buildPath string, sidecar Sidecar) error {
	expected, err := ReadExpectedDigest(sidecar.Path)
	if err != nil {
		return err
	}

	actual, ok, err := Digest(buildPath, sidecar.Algorithm)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unsupported checksum algorithm: %s", sidecar.Algorithm)
	}

	if !strings.EqualFold(expected, actual) {
		return &MismatchError{Path: buildPath, Expected: expected, Actual: actual}
	}

	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
