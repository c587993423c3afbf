// Package discovery finds build files ready to be uploaded.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/shipper/shippy/checksum"
)

// DefaultPattern matches build archives in the working directory.
const DefaultPattern = "*.zip"

// Candidate is a build that passed every check.
type Candidate struct {
	Path    string
	Name    string
	Sidecar checksum.Sidecar
}

// Rejection is a build that was skipped, with the reason why.
type Rejection struct {
	Path   string
	Reason string
	Err    error
}

// Result is the outcome of a search.
type Result struct {
	Candidates []Candidate
	Rejections []Rejection
}

// Finder searches a directory for builds.
type Finder struct {
	dir          string
	pattern      string
	filenameRule *regexp.Regexp
	pathModifier pathutil.PathModifier
	logger       log.Logger
}

// NewFinder creates a Finder for dir. An empty pattern means DefaultPattern.
func NewFinder(dir, pattern string, logger log.Logger) *Finder {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &Finder{
		dir:          dir,
		pattern:      pattern,
		pathModifier: pathutil.NewPathModifier(),
		logger:       logger,
	}
}

// WithFilenamePattern rejects builds whose name does not match the regular expression.
// An empty expression accepts every name.
func (f *Finder) WithFilenamePattern(expr string) (*Finder, error) {
	if expr == "" {
		f.filenameRule = nil
		return f, nil
	}

	rule, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filename pattern %q: %w", expr, err)
	}
	f.filenameRule = rule
	return f, nil
}

// Find globs the directory and validates every match.
func (f *Finder) Find() (Result, error) {
	dir, err := f.pathModifier.AbsPath(f.dir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", f.dir, err)
	}

	if !doublestar.ValidatePattern(f.pattern) {
		return Result{}, fmt.Errorf("invalid glob pattern: %s", f.pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(dir), f.pattern)
	if err != nil {
		return Result{}, fmt.Errorf("glob %s: %w", f.pattern, err)
	}
	sort.Strings(matches)

	var result Result
	for _, match := range matches {
		if isSidecarName(match) {
			continue
		}

		path := filepath.Join(dir, filepath.FromSlash(match))
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}

		candidate, rejection := f.check(path)
		if rejection != nil {
			f.logger.Warnf("Skipping %s: %s", filepath.Base(path), rejection.Reason)
			result.Rejections = append(result.Rejections, *rejection)
			continue
		}
		f.logger.Debugf("Found build %s (%s checksum in %s)", candidate.Name, candidate.Sidecar.Algorithm, filepath.Base(candidate.Sidecar.Path))
		result.Candidates = append(result.Candidates, candidate)
	}

	return result, nil
}

// Check validates a single build path given on the command line.
func (f *Finder) Check(path string) (Candidate, *Rejection) {
	absPath, err := f.pathModifier.AbsPath(path)
	if err != nil {
		return Candidate{}, &Rejection{Path: path, Reason: "the path cannot be resolved", Err: err}
	}
	return f.check(absPath)
}

func (f *Finder) check(path string) (Candidate, *Rejection) {
	name := filepath.Base(path)

	if f.filenameRule != nil && !f.filenameRule.MatchString(name) {
		return Candidate{}, &Rejection{Path: path, Reason: "the filename does not match the pattern required by the server"}
	}

	sidecar, ok := checksum.FindSidecar(path)
	if !ok {
		return Candidate{}, &Rejection{Path: path, Reason: "this build does not have a matching checksum file"}
	}

	f.logger.Printf("Checking %s hash of %s... this may take a couple of seconds.", strings.ToUpper(string(sidecar.Algorithm)), name)
	if err := checksum.Verify(path, sidecar); err != nil {
		var mismatch *checksum.MismatchError
		if errors.As(err, &mismatch) {
			return Candidate{}, &Rejection{Path: path, Reason: "this build's checksum is invalid", Err: err}
		}
		return Candidate{}, &Rejection{Path: path, Reason: "the checksum could not be verified", Err: err}
	}

	return Candidate{Path: path, Name: name, Sidecar: sidecar}, nil
}

func isSidecarName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, alg := range checksum.SidecarAlgorithms {
		if ext == "."+string(alg) || ext == "."+string(alg)+"sum" {
			return true
		}
	}
	return false
}
