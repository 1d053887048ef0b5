package archive

import (
	"crypto/md5" //nolint:gosec // content change detection, not authentication
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// FileChecksum returns the hex MD5 digest of the file's content. MD5 matches
// what content stores report for uploaded objects, so local and remote
// checksums are directly comparable.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for checksum: %w", path, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksumming %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
