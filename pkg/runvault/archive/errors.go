package archive

import "errors"

// Sentinel errors for the archival engine. Callers distinguish per-file
// failures, which are counted and skipped, from container-level failures,
// which end the session.
var (
	// ErrSourceMissing means a file disappeared between discovery and add.
	// Per-file: publishing continues with the next file.
	ErrSourceMissing = errors.New("source file missing")

	// ErrArchiveIO means a container create, write or flush failed. Fatal to
	// the session: the open container cannot be trusted.
	ErrArchiveIO = errors.New("archive i/o failure")

	// ErrRemote means the remote store rejected an upload or metadata
	// operation for a closed container. Counted, not fatal: the container and
	// manifest are intact locally.
	ErrRemote = errors.New("remote store operation failed")
)
