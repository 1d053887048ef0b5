package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile creates a file with the given content under dir, creating parent
// directories as needed, and returns its absolute path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// readTar returns the tar's entries as a name-to-content map.
func readTar(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	entries := make(map[string]string)
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = string(data)
	}
	return entries
}

func TestStream_AddFile(t *testing.T) {
	t.Parallel()

	t.Run("packs files under relative slash paths", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		f1 := writeFile(t, dir, "reads/a.pod5", "aaaa")
		f2 := writeFile(t, dir, "b.txt", "bb")

		s := NewStream(filepath.Join(dir, "run.0.tar"), dir, false)
		require.NoError(t, s.Open())
		require.NoError(t, s.AddFile(f1))
		require.NoError(t, s.AddFile(f2))

		assert.Equal(t, int64(6), s.ByteCount())
		assert.Equal(t, 2, s.FileCount())
		assert.True(t, s.FileAdded(f1))
		assert.False(t, s.FileAdded(filepath.Join(dir, "missing")))
		assert.False(t, s.LastAddTime().IsZero())

		require.NoError(t, s.Close())

		entries := readTar(t, filepath.Join(dir, "run.0.tar"))
		assert.Equal(t, map[string]string{
			"reads/a.pod5": "aaaa",
			"b.txt":        "bb",
		}, entries)
	})

	t.Run("missing source reported as ErrSourceMissing", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s := NewStream(filepath.Join(dir, "run.0.tar"), dir, false)
		require.NoError(t, s.Open())
		defer s.Discard()

		err := s.AddFile(filepath.Join(dir, "gone.pod5"))
		require.ErrorIs(t, err, ErrSourceMissing)
		assert.Equal(t, 0, s.FileCount())
	})

	t.Run("remove after add deletes the source", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		f1 := writeFile(t, dir, "a.pod5", "content")

		s := NewStream(filepath.Join(dir, "run.0.tar"), dir, true)
		require.NoError(t, s.Open())
		require.NoError(t, s.AddFile(f1))
		require.NoError(t, s.Close())

		_, err := os.Stat(f1)
		assert.True(t, os.IsNotExist(err))

		entries := readTar(t, filepath.Join(dir, "run.0.tar"))
		assert.Equal(t, "content", entries["a.pod5"])
	})
}

func TestStream_ChecksumHistory(t *testing.T) {
	t.Parallel()

	t.Run("unchanged re-add is not an update", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		f1 := writeFile(t, dir, "a.pod5", "stable")

		s := NewStream(filepath.Join(dir, "run.0.tar"), dir, false)
		require.NoError(t, s.Open())
		defer s.Discard()

		require.NoError(t, s.AddFile(f1))
		require.NoError(t, s.AddFile(f1))

		assert.Len(t, s.ChecksumHistory(f1), 2)
		assert.False(t, s.FileUpdated(f1))
	})

	t.Run("changed re-add is an update with a new latest checksum", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		f1 := writeFile(t, dir, "a.pod5", "before")

		s := NewStream(filepath.Join(dir, "run.0.tar"), dir, false)
		require.NoError(t, s.Open())
		defer s.Discard()

		require.NoError(t, s.AddFile(f1))
		first := s.LatestChecksum(f1)

		writeFile(t, dir, "a.pod5", "after")
		require.NoError(t, s.AddFile(f1))

		assert.True(t, s.FileUpdated(f1))
		assert.NotEqual(t, first, s.LatestChecksum(f1))
	})

	t.Run("never-added path is neither added nor updated", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s := NewStream(filepath.Join(dir, "run.0.tar"), dir, false)
		require.NoError(t, s.Open())
		defer s.Discard()

		p := filepath.Join(dir, "never.pod5")
		assert.False(t, s.FileAdded(p))
		assert.False(t, s.FileUpdated(p))
		assert.Empty(t, s.LatestChecksum(p))
	})
}

func TestStream_Added(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f1 := writeFile(t, dir, "a.pod5", "a")
	f2 := writeFile(t, dir, "b.pod5", "b")

	s := NewStream(filepath.Join(dir, "run.0.tar"), dir, false)
	require.NoError(t, s.Open())
	defer s.Discard()

	require.NoError(t, s.AddFile(f1))
	require.NoError(t, s.AddFile(f2))
	require.NoError(t, s.AddFile(f1))

	// Distinct, in first-add order, despite the re-add.
	assert.Equal(t, []string{f1, f2}, s.Added())
	assert.Equal(t, 3, s.FileCount())
}

func TestStream_Discard(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	containerPath := filepath.Join(dir, "run.0.tar")

	s := NewStream(containerPath, dir, false)
	require.NoError(t, s.Open())
	s.Discard()

	_, err := os.Stat(containerPath)
	assert.True(t, os.IsNotExist(err))
}

func TestStream_LifecyclePanics(t *testing.T) {
	t.Parallel()

	t.Run("double open", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s := NewStream(filepath.Join(dir, "run.0.tar"), dir, false)
		require.NoError(t, s.Open())
		defer s.Discard()

		assert.Panics(t, func() { _ = s.Open() })
	})

	t.Run("add on unopened stream", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s := NewStream(filepath.Join(dir, "run.0.tar"), dir, false)
		assert.Panics(t, func() { _ = s.AddFile(filepath.Join(dir, "a")) })
	})

	t.Run("close on unopened stream", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		s := NewStream(filepath.Join(dir, "run.0.tar"), dir, false)
		assert.Panics(t, func() { _ = s.Close() })
	})
}

func TestFileChecksum(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f1 := writeFile(t, dir, "a.pod5", "hello")

	// MD5("hello")
	sum, err := FileChecksum(f1)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)

	_, err = FileChecksum(filepath.Join(dir, "absent"))
	require.Error(t, err)
}
