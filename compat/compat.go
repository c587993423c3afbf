// Package compat checks that shippy and the server it talks to understand each other.
package compat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/shipper/shippy/network"
)

// MinServerVersion is the oldest server release this client can upload to.
const MinServerVersion = "2.0.0"

var (
	// ErrServerOutdated means the server is older than MinServerVersion.
	ErrServerOutdated = errors.New("the server you're connecting to is out-of-date")
	// ErrClientOutdated means the server requires a newer shippy.
	ErrClientOutdated = errors.New("shippy is out-of-date")
)

// VersionError describes a failed check.
type VersionError struct {
	Err      error
	Reported string
	Required string
}

func (e *VersionError) Error() string {
	if errors.Is(e.Err, ErrServerOutdated) {
		return fmt.Sprintf(`The server you're connecting to is out-of-date.
If you know the server admin, please ask them to upgrade the server.
 * Reported server version: 	%s
 * Compatible version: 		%s

To prevent data corruption, shippy will not work with an outdated server.`, e.Reported, e.Required)
	}
	return fmt.Sprintf(`shippy is out-of-date and no longer supported by this server.
 * Current version: 	%s
 * Required version: 	%s

Please update shippy before uploading.`, e.Reported, e.Required)
}

func (e *VersionError) Unwrap() error {
	return e.Err
}

// Check verifies that the server is at least minServerVersion and that clientVersion is at
// least the shippy_compat_version the server reports. An empty compat version is not checked.
func Check(info network.SystemInfo, clientVersion, minServerVersion string) error {
	server, err := Parse(info.Version)
	if err != nil {
		return fmt.Errorf("parse server version: %w", err)
	}
	min, err := Parse(minServerVersion)
	if err != nil {
		return fmt.Errorf("parse minimum server version: %w", err)
	}
	if server.LessThan(*min) {
		return &VersionError{Err: ErrServerOutdated, Reported: server.String(), Required: min.String()}
	}

	if info.ShippyCompatVersion == "" {
		return nil
	}
	required, err := Parse(info.ShippyCompatVersion)
	if err != nil {
		return fmt.Errorf("parse shippy compat version: %w", err)
	}
	client, err := Parse(clientVersion)
	if err != nil {
		return fmt.Errorf("parse shippy version: %w", err)
	}
	if client.LessThan(*required) {
		return &VersionError{Err: ErrClientOutdated, Reported: client.String(), Required: required.String()}
	}

	return nil
}

// Parse parses a semantic version, tolerating a leading "v" and missing minor or patch numbers.
func Parse(version string) (*semver.Version, error) {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if v == "" {
		return nil, errors.New("empty version")
	}

	core, suffix := v, ""
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		core, suffix = v[:i], v[i:]
	}
	for strings.Count(core, ".") < 2 {
		core += ".0"
	}

	return semver.NewVersion(core + suffix)
}
