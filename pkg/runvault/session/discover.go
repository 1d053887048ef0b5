package session

import (
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// discover returns the regular files currently under the run-folder, sorted
// for deterministic publish order. The publisher's own artifacts living in
// the run-folder (manifest, temp files, containers) are never candidates.
func (s *Session) discover() ([]string, error) {
	var (
		mu    sync.Mutex
		files []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, s.cfg.RunDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if isOwnArtifact(d.Name()) {
			return nil
		}

		mu.Lock()
		files = append(files, path)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// isOwnArtifact reports whether the name is produced by the archival engine
// itself rather than the instrument.
func isOwnArtifact(name string) bool {
	if name == "runvault_manifest.txt" || name == "runvault_manifest.txt.tmp" {
		return true
	}
	return strings.HasSuffix(name, ".tar")
}
