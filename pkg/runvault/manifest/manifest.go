// Package manifest provides the persisted ledger mapping archived files to the
// containers they were packed into. One manifest file exists per run-folder;
// it is the source of truth for restart-safe publishing.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrCorrupt is returned by Read when the backing file exists but cannot be
// parsed. Callers must treat this as fatal rather than guess at intent.
var ErrCorrupt = errors.New("manifest file is corrupt")

// Records are tab-separated: <container>\t<item-path>\t<checksum>.
const fieldCount = 3

// Manifest is an in-memory collection of entries keyed by item path, bound to
// a backing file. Mutations accumulate in memory; Persist rewrites the file
// atomically.
type Manifest struct {
	path    string
	mu      sync.Mutex
	entries map[string]Entry
	order   []string
}

// New creates a manifest bound to the given backing path. The file is not
// touched until Read or Persist is called.
func New(path string) (*Manifest, error) {
	if path == "" {
		return nil, errors.New("manifest path cannot be empty")
	}
	return &Manifest{
		path:    path,
		entries: make(map[string]Entry),
	}, nil
}

// Path returns the backing file path.
func (m *Manifest) Path() string {
	return m.path
}

// Exists reports whether the backing file is present on disk.
func (m *Manifest) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Read loads entries from the backing file, replacing any in-memory state.
// It returns ErrCorrupt if any line does not parse as a manifest record.
func (m *Manifest) Read() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.Open(m.path)
	if err != nil {
		return fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	entries := make(map[string]Entry)
	var order []string

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}

		fields := strings.Split(text, "\t")
		if len(fields) != fieldCount || fields[0] == "" || fields[1] == "" {
			return fmt.Errorf("%w: %s line %d", ErrCorrupt, m.path, line)
		}

		entry := Entry{
			Container: fields[0],
			ItemPath:  fields[1],
			Checksum:  fields[2],
		}
		if _, seen := entries[entry.ItemPath]; !seen {
			order = append(order, entry.ItemPath)
		}
		entries[entry.ItemPath] = entry
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}

	m.entries = entries
	m.order = order
	return nil
}

// AddItem inserts or overwrites the entry for itemPath. It has no effect on
// disk until Persist is called.
func (m *Manifest) AddItem(container, itemPath, checksum string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.entries[itemPath]; !seen {
		m.order = append(m.order, itemPath)
	}
	m.entries[itemPath] = Entry{
		Container: container,
		ItemPath:  itemPath,
		Checksum:  checksum,
	}
}

// ContainsItem reports whether an entry exists for itemPath.
func (m *Manifest) ContainsItem(itemPath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[itemPath]
	return ok
}

// GetItem returns the entry for itemPath, if present.
func (m *Manifest) GetItem(itemPath string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[itemPath]
	return entry, ok
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Items returns all entries in insertion order.
func (m *Manifest) Items() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]Entry, 0, len(m.order))
	for _, itemPath := range m.order {
		items = append(items, m.entries[itemPath])
	}
	return items
}

// Persist writes all entries to the backing path, overwriting it. The write
// goes to a temporary file which is renamed into place, so a crash never
// leaves a half-written manifest.
func (m *Manifest) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}

	var sb strings.Builder
	for _, itemPath := range m.order {
		entry := m.entries[itemPath]
		sb.WriteString(entry.Container)
		sb.WriteByte('\t')
		sb.WriteString(entry.ItemPath)
		sb.WriteByte('\t')
		sb.WriteString(entry.Checksum)
		sb.WriteByte('\n')
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing manifest temp file: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming manifest temp file: %w", err)
	}

	return nil
}
