// Package remote defines the content-store interface the archival engine
// uploads closed containers to, and its S3 implementation. The engine is
// agnostic to the store's authentication and session management.
package remote

import "context"

// Store is the surface the archival engine needs from a remote content store.
type Store interface {
	// Put uploads the local file to the remote destination key.
	Put(ctx context.Context, localPath, remotePath string) error

	// AttachMetadata attaches key/value attributes to a stored object.
	AttachMetadata(ctx context.Context, remotePath string, attrs map[string]string) error

	// Checksum returns the store's checksum for the object at remotePath.
	Checksum(ctx context.Context, remotePath string) (string, error)
}
