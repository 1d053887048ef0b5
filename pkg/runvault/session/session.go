// Package session drives one publisher against one run-folder until the run
// goes idle. A session repeatedly discovers newly-written files, offers the
// unpublished ones to the archival engine, and terminates itself after a
// configured window with no successful publish.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jamesainslie/runvault/pkg/runvault/archive"
	"github.com/jamesainslie/runvault/pkg/runvault/logging"
)

// Config configures a session.
type Config struct {
	// RunDir is the run-folder to process.
	RunDir string

	// RunID is the identified run key, used for logging and upload metadata.
	RunID string

	// SessionTimeout ends the session after this long without a successful
	// publish.
	SessionTimeout time.Duration

	// ArchiveTimeout force-closes the open container after this long without
	// an add, even while the session keeps running. Zero disables it.
	ArchiveTimeout time.Duration

	// ScanInterval is the pause between discovery passes.
	ScanInterval time.Duration

	// OneShot ends the session after a single discovery pass instead of
	// waiting out the idle timeout.
	OneShot bool
}

// Result reports a finished session's counts.
type Result struct {
	RunID          string
	FilesSeen      int
	FilesPublished int
	FilesErrored   int
	Containers     int
}

// Session owns one publisher and one run-folder. Not safe for concurrent
// use; the monitor guarantees at most one session per run path.
type Session struct {
	cfg Config
	pub *archive.Publisher

	id     string
	log    *logging.Logger
	seen   map[string]bool
	failed map[string]bool

	published int
	errored   int
}

// New creates a session around an already-constructed publisher.
func New(cfg Config, pub *archive.Publisher) *Session {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 10 * time.Minute
	}

	id := uuid.NewString()
	return &Session{
		cfg:  cfg,
		pub:  pub,
		id:   id,
		log:    logging.Get("session").With("session", id, "run", cfg.RunID),
		seen:   make(map[string]bool),
		failed: make(map[string]bool),
	}
}

// Run executes the session loop until the idle timeout fires or the context
// is cancelled. The final CloseStream flushes any partially filled container
// before counts are reported.
func (s *Session) Run(ctx context.Context) (Result, error) {
	s.log.Info("session started", "dir", s.cfg.RunDir)

	lastPublish := time.Now()
	for {
		files, err := s.discover()
		if err != nil {
			return s.result(), err
		}

		for _, f := range files {
			s.seen[f] = true

			ok, err := s.offer(f)
			if err != nil {
				// Container-level failure: flush what we can and stop.
				_ = s.pub.CloseStream()
				return s.result(), err
			}
			if ok {
				lastPublish = time.Now()
			}
		}

		// Keep containers from staying open indefinitely waiting to reach
		// capacity while files still trickle in for a future container.
		if s.cfg.ArchiveTimeout > 0 && s.pub.SessionInProgress() &&
			s.pub.IdleTime() > s.cfg.ArchiveTimeout {
			s.log.Info("archive timeout, closing container",
				"idle", s.pub.IdleTime().Round(time.Second))
			if err := s.closeStream(); err != nil {
				return s.result(), err
			}
		}

		if s.cfg.OneShot {
			break
		}

		if time.Since(lastPublish) > s.cfg.SessionTimeout {
			s.log.Info("session idle, finishing",
				"idle", time.Since(lastPublish).Round(time.Second))
			break
		}

		select {
		case <-ctx.Done():
			s.log.Info("session cancelled")
			if err := s.closeStream(); err != nil {
				return s.result(), err
			}
			return s.result(), ctx.Err()
		case <-time.After(s.cfg.ScanInterval):
		}
	}

	if err := s.closeStream(); err != nil {
		return s.result(), err
	}

	res := s.result()
	s.log.Info("session finished",
		"seen", res.FilesSeen,
		"published", res.FilesPublished,
		"errored", res.FilesErrored,
		"containers", res.Containers)
	return res, nil
}

// offer publishes one file unless it is already accounted for and unchanged.
// It reports whether a publish succeeded. Per-file errors are counted and
// swallowed; container-level errors are returned.
func (s *Session) offer(absPath string) (bool, error) {
	published, err := s.pub.FilePublished(absPath)
	if err != nil {
		s.recordFileError(absPath, err)
		return false, nil
	}
	if published {
		updated, err := s.pub.FileUpdated(absPath)
		if err != nil {
			s.recordFileError(absPath, err)
			return false, nil
		}
		if !updated {
			return false, nil
		}
		s.log.Info("file changed since archived, re-publishing", "path", absPath)
	}

	dest, err := s.publish(absPath)
	if err != nil {
		return false, err
	}
	if dest == "" {
		return false, nil
	}
	s.published++
	return true, nil
}

// publish calls Publish, re-offering the file once when the byte budget
// rotated the container instead of adding it: the retry lands the file in
// the fresh container.
func (s *Session) publish(absPath string) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		dest, err := s.pub.Publish(absPath)
		if err != nil {
			if fatal := s.handlePublishError(absPath, err); fatal != nil {
				return "", fatal
			}
			return "", nil
		}
		if dest != "" {
			return dest, nil
		}
	}
	return "", fmt.Errorf("publish of %s made no progress after rotation", absPath)
}

// handlePublishError classifies a publish failure. Per-file and remote
// failures are counted and return nil; archive I/O failures are fatal.
func (s *Session) handlePublishError(absPath string, err error) error {
	switch {
	case errors.Is(err, archive.ErrSourceMissing):
		s.recordFileError(absPath, err)
		return nil
	case errors.Is(err, archive.ErrRemote):
		s.recordFileError(absPath, err)
		return nil
	default:
		s.log.Error("archive failure", "path", absPath, "error", err)
		return err
	}
}

// closeStream flushes the open container, counting a remote rejection as an
// error without ending the session.
func (s *Session) closeStream() error {
	err := s.pub.CloseStream()
	if err == nil {
		return nil
	}
	if errors.Is(err, archive.ErrRemote) {
		s.errored++
		s.log.Warn("container upload failed", "error", err)
		return nil
	}
	return err
}

// recordFileError counts a failing path once: a file that fails on every
// scan pass of a long session must not inflate the final error count.
func (s *Session) recordFileError(absPath string, err error) {
	if !s.failed[absPath] {
		s.failed[absPath] = true
		s.errored++
	}
	s.log.Warn("file error", "path", absPath, "error", err)
}

func (s *Session) result() Result {
	return Result{
		RunID:          s.cfg.RunID,
		FilesSeen:      len(s.seen),
		FilesPublished: s.published,
		FilesErrored:   s.errored,
		Containers:     s.pub.ArchiveCount(),
	}
}
