// Package archive implements the resumable archival engine: tar container
// streams under construction, and the publisher that rotates them against
// capacity limits and commits closed containers to the manifest.
package archive

import (
	"archive/tar"
	"crypto/md5" //nolint:gosec // see FileChecksum
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Stream is one open tar container under construction. A stream is created,
// has files appended to it, and is then either closed (finalized) or
// discarded. It is not safe for concurrent use; each publisher owns at most
// one stream at a time.
type Stream struct {
	path    string // absolute path of the container file
	workDir string // base for relative item paths inside the container

	removeAfterAdd bool

	open   bool
	closed bool

	file *os.File
	tw   *tar.Writer

	byteCount int64
	fileCount int
	startTime time.Time
	lastAdd   time.Time

	added     []string            // absolute paths in add order, duplicates allowed
	checksums map[string][]string // per-path checksum history
}

// NewStream creates a stream that will write the container at path, storing
// entries under names relative to workDir. When removeAfterAdd is set, each
// source file is deleted after it has been successfully appended
// (destructive-move semantics; opt-in only).
func NewStream(path, workDir string, removeAfterAdd bool) *Stream {
	return &Stream{
		path:           path,
		workDir:        workDir,
		removeAfterAdd: removeAfterAdd,
		checksums:      make(map[string][]string),
	}
}

// Path returns the absolute path of the container file.
func (s *Stream) Path() string {
	return s.path
}

// Name returns the container file name, as recorded in manifest entries.
func (s *Stream) Name() string {
	return filepath.Base(s.path)
}

// Open creates the backing container file for writing. Opening an
// already-open or closed stream is a programming error and panics.
func (s *Stream) Open() error {
	if s.open || s.closed {
		panic("archive: Open on an already-open stream")
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: creating container %s: %v", ErrArchiveIO, s.path, err)
	}

	s.file = f
	s.tw = tar.NewWriter(f)
	s.open = true
	s.startTime = time.Now()
	return nil
}

// AddFile appends the file's content to the container under its path relative
// to the stream's working directory. The content checksum is appended to the
// path's history, so a re-added file that changed is distinguishable from an
// unchanged re-addition.
func (s *Stream) AddFile(absPath string) error {
	if !s.open {
		panic("archive: AddFile on a stream that is not open")
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, absPath)
		}
		return fmt.Errorf("stat %s: %w", absPath, err)
	}

	relPath, err := filepath.Rel(s.workDir, absPath)
	if err != nil {
		return fmt.Errorf("relativizing %s against %s: %w", absPath, s.workDir, err)
	}

	src, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, absPath)
		}
		return fmt.Errorf("opening %s: %w", absPath, err)
	}
	defer src.Close()

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("%w: building header for %s: %v", ErrArchiveIO, absPath, err)
	}
	hdr.Name = filepath.ToSlash(relPath)

	if err := s.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: writing header for %s: %v", ErrArchiveIO, relPath, err)
	}

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(io.MultiWriter(s.tw, h), src); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrArchiveIO, relPath, err)
	}
	checksum := hex.EncodeToString(h.Sum(nil))

	s.byteCount += info.Size()
	s.fileCount++
	s.lastAdd = time.Now()
	s.added = append(s.added, absPath)
	s.checksums[absPath] = append(s.checksums[absPath], checksum)

	if s.removeAfterAdd {
		if err := os.Remove(absPath); err != nil {
			return fmt.Errorf("removing %s after add: %w", absPath, err)
		}
	}

	return nil
}

// FileAdded reports whether this stream has ever added the path.
func (s *Stream) FileAdded(absPath string) bool {
	return len(s.checksums[absPath]) > 0
}

// FileUpdated reports whether the path's checksum history holds more than one
// distinct value, meaning the file changed between additions.
func (s *Stream) FileUpdated(absPath string) bool {
	history := s.checksums[absPath]
	if len(history) < 2 {
		return false
	}
	for _, sum := range history[1:] {
		if sum != history[0] {
			return true
		}
	}
	return false
}

// ChecksumHistory returns the ordered checksums recorded for the path.
func (s *Stream) ChecksumHistory(absPath string) []string {
	return s.checksums[absPath]
}

// LatestChecksum returns the most recent checksum recorded for the path.
func (s *Stream) LatestChecksum(absPath string) string {
	history := s.checksums[absPath]
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1]
}

// Added returns the distinct absolute paths this stream has added, in first-add
// order.
func (s *Stream) Added() []string {
	seen := make(map[string]bool, len(s.added))
	var distinct []string
	for _, p := range s.added {
		if !seen[p] {
			seen[p] = true
			distinct = append(distinct, p)
		}
	}
	return distinct
}

// RelPath returns the path's form relative to the stream's working directory.
func (s *Stream) RelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(s.workDir, absPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// ByteCount returns the total size of content added so far.
func (s *Stream) ByteCount() int64 {
	return s.byteCount
}

// FileCount returns the number of additions so far.
func (s *Stream) FileCount() int {
	return s.fileCount
}

// StartTime returns when the stream was opened.
func (s *Stream) StartTime() time.Time {
	return s.startTime
}

// LastAddTime returns when the most recent add completed; zero if none.
func (s *Stream) LastAddTime() time.Time {
	return s.lastAdd
}

// Close finalizes the container: flushes the tar trailer and closes the file
// handle. On failure the stream is left unusable and the caller must not
// retry; the container on disk is not a valid archive.
func (s *Stream) Close() error {
	if !s.open {
		panic("archive: Close on a stream that is not open")
	}
	s.open = false
	s.closed = true

	if err := s.tw.Close(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("%w: finalizing %s: %v", ErrArchiveIO, s.path, err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrArchiveIO, s.path, err)
	}
	return nil
}

// Discard abandons an empty or unwanted stream: closes the handle and removes
// the container file from disk. The stream is unusable afterwards.
func (s *Stream) Discard() {
	if s.open {
		s.open = false
		s.closed = true
		_ = s.tw.Close()
		_ = s.file.Close()
	}
	_ = os.Remove(s.path)
}
