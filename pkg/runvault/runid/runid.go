// Package runid identifies instrument runs. A run-folder's identity is not
// its directory name: the run key is parsed from the name of the first
// qualifying data file the instrument writes under it, so a renamed or
// re-staged folder still maps to the same run.
package runid

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
)

// ErrNoRunID means no qualifying data file was found yet, or none matched the
// identifier pattern. Monitors drop the event and rely on later instrument
// writes to re-trigger identification.
var ErrNoRunID = errors.New("no run identifier found")

// DefaultDataGlob matches the instrument's early output files.
const DefaultDataGlob = "*.pod5"

// DefaultIDPattern extracts the run key from a data file name. The first
// capture group is the identifier.
const DefaultIDPattern = `_([0-9a-f]{8})_`

// Identifier extracts run keys from run-folders.
type Identifier struct {
	dataGlob string
	pattern  *regexp.Regexp
}

// New creates an identifier. Empty arguments select the defaults.
func New(dataGlob, idPattern string) (*Identifier, error) {
	if dataGlob == "" {
		dataGlob = DefaultDataGlob
	}
	if idPattern == "" {
		idPattern = DefaultIDPattern
	}

	re, err := regexp.Compile(idPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling run id pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("run id pattern %q has no capture group", idPattern)
	}

	return &Identifier{dataGlob: dataGlob, pattern: re}, nil
}

// Identify walks the run-folder for the first data file matching the glob and
// extracts the run key from its name. Returns ErrNoRunID when no qualifying
// file exists yet or the pattern does not match.
func (id *Identifier) Identify(runDir string) (string, error) {
	var candidates []string

	err := filepath.WalkDir(runDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if matched, _ := filepath.Match(id.dataGlob, d.Name()); matched {
			candidates = append(candidates, d.Name())
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", runDir, err)
	}

	// Walk order is not guaranteed; sort so identification is deterministic.
	sort.Strings(candidates)

	for _, name := range candidates {
		if m := id.pattern.FindStringSubmatch(name); m != nil {
			return m[1], nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNoRunID, runDir)
}
