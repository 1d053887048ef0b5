package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/runvault/pkg/runvault/logging"
	"github.com/jamesainslie/runvault/pkg/runvault/manifest"
	"github.com/jamesainslie/runvault/pkg/runvault/remote"
)

// Options configures a Publisher.
type Options struct {
	// RunDir is the run-folder root; item paths inside containers and in the
	// manifest are relative to it.
	RunDir string

	// ContainerBase is the path prefix for container files. Containers are
	// named <ContainerBase>.<n>.tar for the publisher's nth closed container.
	// Defaults to <RunDir>/<basename of RunDir>.
	ContainerBase string

	// ManifestPath is the manifest backing file. Defaults to
	// <RunDir>/runvault_manifest.txt.
	ManifestPath string

	// BytesCapacity is the byte budget per container; zero means unlimited.
	BytesCapacity int64

	// FilesCapacity is the file budget per container; zero means unlimited.
	FilesCapacity int

	// RemoveAfterAdd deletes each source file after a successful add.
	RemoveAfterAdd bool

	// Remote, when non-nil, receives every closed container.
	Remote remote.Store

	// RemotePrefix is the key prefix for uploaded containers.
	RemotePrefix string

	// Metadata is attached to every uploaded container.
	Metadata map[string]string
}

// Publisher packs files into capacity-bounded tar containers, rotating to a
// fresh container when a limit is hit, and commits entries to its manifest
// only when a container has been fully closed. Restart safety comes from the
// manifest: construction loads prior state, and FilePublished reflects it
// from the first call.
type Publisher struct {
	opts Options
	man  *manifest.Manifest

	stream       *Stream
	archiveCount int

	log *logging.Logger
}

// NewPublisher creates a publisher for one run-folder, loading the manifest
// if its backing file already exists. A manifest that exists but cannot be
// parsed is fatal (manifest.ErrCorrupt).
func NewPublisher(opts Options) (*Publisher, error) {
	if opts.RunDir == "" {
		return nil, errors.New("archive: run directory is required")
	}

	runDir, err := filepath.Abs(opts.RunDir)
	if err != nil {
		return nil, fmt.Errorf("resolving run directory: %w", err)
	}
	opts.RunDir = runDir

	if opts.ContainerBase == "" {
		opts.ContainerBase = filepath.Join(runDir, filepath.Base(runDir))
	}
	if opts.ManifestPath == "" {
		opts.ManifestPath = filepath.Join(runDir, "runvault_manifest.txt")
	}

	man, err := manifest.New(opts.ManifestPath)
	if err != nil {
		return nil, err
	}
	if man.Exists() {
		if err := man.Read(); err != nil {
			return nil, err
		}
	}

	p := &Publisher{
		opts: opts,
		man:  man,
		log:  logging.Get("archive"),
	}

	// Resume container numbering after the ones the manifest already names,
	// so a restarted publisher never overwrites a committed container.
	containers := make(map[string]bool)
	for _, entry := range man.Items() {
		containers[entry.Container] = true
	}
	p.archiveCount = len(containers)

	return p, nil
}

// Manifest returns the publisher's manifest.
func (p *Publisher) Manifest() *manifest.Manifest {
	return p.man
}

// ArchiveCount returns the number of containers closed so far.
func (p *Publisher) ArchiveCount() int {
	return p.archiveCount
}

// containerPath names the next container from the current archive count.
func (p *Publisher) containerPath() string {
	return fmt.Sprintf("%s.%d.tar", p.opts.ContainerBase, p.archiveCount)
}

// relPath returns the item path used in manifest entries for absPath.
func (p *Publisher) relPath(absPath string) (string, error) {
	rel, err := filepath.Rel(p.opts.RunDir, absPath)
	if err != nil {
		return "", fmt.Errorf("relativizing %s: %w", absPath, err)
	}
	return filepath.ToSlash(rel), nil
}

// Publish offers one file to the current container. The returned destination
// is the container file name the content went into, or empty when the byte
// budget forced a rotation instead: the file was not added, and the caller
// must re-offer it, which will land it in a fresh container.
//
// The capacity checks are asymmetric: the byte budget is enforced before the
// add, so no container ever exceeds it; the file-count budget is enforced
// after, so the triggering file is included before rotation.
func (p *Publisher) Publish(absPath string) (string, error) {
	if p.stream == nil {
		if err := p.openStream(); err != nil {
			return "", err
		}
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSourceMissing, absPath)
		}
		return "", fmt.Errorf("stat %s: %w", absPath, err)
	}

	// A file bigger than the whole budget is still accepted into an empty
	// container; rejecting it would retry forever.
	if p.opts.BytesCapacity > 0 && p.stream.FileCount() > 0 &&
		p.stream.ByteCount()+info.Size() > p.opts.BytesCapacity {
		p.log.Debug("byte capacity reached, rotating",
			"container", p.stream.Name(),
			"bytes", humanize.Bytes(uint64(p.stream.ByteCount())))
		if err := p.CloseStream(); err != nil {
			return "", err
		}
		return "", nil
	}

	if err := p.stream.AddFile(absPath); err != nil {
		return "", err
	}
	dest := p.stream.Name()

	if p.opts.FilesCapacity > 0 && p.stream.FileCount() >= p.opts.FilesCapacity {
		p.log.Debug("file capacity reached, rotating",
			"container", dest, "files", p.stream.FileCount())
		if err := p.CloseStream(); err != nil {
			return dest, err
		}
	}

	return dest, nil
}

// openStream opens a fresh container named from the current archive count.
func (p *Publisher) openStream() error {
	s := NewStream(p.containerPath(), p.opts.RunDir, p.opts.RemoveAfterAdd)
	if err := s.Open(); err != nil {
		return err
	}
	p.stream = s
	p.log.Debug("opened container", "container", s.Name())
	return nil
}

// CloseStream finalizes the open container, if any. A container with at least
// one file is closed, counted, committed to the manifest and persisted, then
// uploaded when a remote store is configured. An empty container is discarded
// without touching the archive count or the manifest.
func (p *Publisher) CloseStream() error {
	if p.stream == nil {
		return nil
	}
	s := p.stream
	p.stream = nil

	if s.FileCount() == 0 {
		s.Discard()
		p.log.Debug("discarded empty container", "container", s.Name())
		return nil
	}

	if err := s.Close(); err != nil {
		return err
	}

	name := s.Name()
	for _, absPath := range s.Added() {
		rel, err := s.RelPath(absPath)
		if err != nil {
			return err
		}
		p.man.AddItem(name, rel, s.LatestChecksum(absPath))
	}
	if err := p.man.Persist(); err != nil {
		return err
	}
	p.archiveCount++

	p.log.Info("closed container",
		"container", name,
		"files", s.FileCount(),
		"bytes", humanize.Bytes(uint64(s.ByteCount())),
		"elapsed", time.Since(s.StartTime()).Round(time.Millisecond))

	if p.opts.Remote != nil {
		if err := p.upload(s); err != nil {
			return err
		}
	}
	return nil
}

// upload sends a closed container to the remote store, attaches the
// configured metadata, and verifies the stored checksum against the local
// container. Failures are reported as ErrRemote; the container and manifest
// remain intact locally.
func (p *Publisher) upload(s *Stream) error {
	ctx := context.Background()
	key := path.Join(p.opts.RemotePrefix, s.Name())

	if err := p.opts.Remote.Put(ctx, s.Path(), key); err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}

	attrs := make(map[string]string, len(p.opts.Metadata)+2)
	for k, v := range p.opts.Metadata {
		attrs[k] = v
	}
	attrs["file-count"] = fmt.Sprintf("%d", s.FileCount())
	attrs["byte-count"] = fmt.Sprintf("%d", s.ByteCount())
	if err := p.opts.Remote.AttachMetadata(ctx, key, attrs); err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}

	localSum, err := FileChecksum(s.Path())
	if err != nil {
		return err
	}
	remoteSum, err := p.opts.Remote.Checksum(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}
	if remoteSum != localSum {
		return fmt.Errorf("%w: checksum mismatch for %s: local %s remote %s",
			ErrRemote, key, localSum, remoteSum)
	}

	p.log.Info("uploaded container", "key", key)
	return nil
}

// FilePublished reports whether the file is already accounted for: committed
// to the manifest in a prior container, or added to the currently-open
// stream. Callers test this before re-attempting a publish so a restarted
// session does not duplicate work.
func (p *Publisher) FilePublished(absPath string) (bool, error) {
	if p.stream != nil && p.stream.FileAdded(absPath) {
		return true, nil
	}
	rel, err := p.relPath(absPath)
	if err != nil {
		return false, err
	}
	return p.man.ContainsItem(rel), nil
}

// FileUpdated reports whether the file's content has changed since it was
// last archived: the open stream recorded more than one distinct checksum for
// it, or the manifest holds a checksum different from the file's current
// on-disk checksum.
func (p *Publisher) FileUpdated(absPath string) (bool, error) {
	if p.stream != nil && p.stream.FileUpdated(absPath) {
		return true, nil
	}

	rel, err := p.relPath(absPath)
	if err != nil {
		return false, err
	}
	entry, ok := p.man.GetItem(rel)
	if !ok {
		return false, nil
	}

	current, err := FileChecksum(absPath)
	if err != nil {
		return false, err
	}
	return entry.Checksum != current, nil
}

// SessionInProgress reports whether a container is open with at least one
// file in it.
func (p *Publisher) SessionInProgress() bool {
	return p.stream != nil && p.stream.FileCount() > 0
}

// ElapsedTime returns how long the current container has been open; zero
// when none is.
func (p *Publisher) ElapsedTime() time.Duration {
	if p.stream == nil {
		return 0
	}
	return time.Since(p.stream.StartTime())
}

// IdleTime returns how long since the current container last accepted a
// file; zero when no container is open or nothing has been added yet.
func (p *Publisher) IdleTime() time.Duration {
	if p.stream == nil || p.stream.LastAddTime().IsZero() {
		return 0
	}
	return time.Since(p.stream.LastAddTime())
}
