// Package config provides configuration management for runvault.
package config

import "time"

// Default configuration values for runvault.
const (
	// DefaultStagingPath is the staging tree watched for new run-folders.
	DefaultStagingPath = "/data/staging"

	// DefaultBytesCapacity is the byte budget per container.
	DefaultBytesCapacity = "10GB"

	// DefaultFilesCapacity is the file budget per container.
	DefaultFilesCapacity = 10000

	// DefaultMaxWorkers is the maximum number of concurrent run sessions.
	DefaultMaxWorkers = 4

	// DefaultSessionTimeout ends a session after this long without a publish.
	DefaultSessionTimeout = 10 * time.Minute

	// DefaultArchiveTimeout force-closes an idle open container.
	DefaultArchiveTimeout = 5 * time.Minute

	// DefaultScanInterval is the pause between run-folder discovery passes.
	DefaultScanInterval = 30 * time.Second

	// DefaultPollInterval is the monitor event-loop poll timeout.
	DefaultPollInterval = time.Second
)
