package drivesync

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound means the remote document or asset does not exist.
var ErrNotFound = errors.New("drivesync: remote file not found")

// FileInfo is the remote metadata used for change detection. MD5Checksum is
// the fingerprint: content is only transferred when it differs from the one
// recorded in the active snapshot.
type FileInfo struct {
	ID           string
	Name         string
	MD5Checksum  string
	Size         int64
	ModifiedTime time.Time
}

// Fetcher is the remote-configuration collaborator: fingerprint lookup and
// content fetch for tracked documents and mapped assets.
type Fetcher interface {
	// Stat resolves a document by name within the configured folder.
	Stat(ctx context.Context, name string) (FileInfo, error)
	// StatID resolves metadata for a known file id.
	StatID(ctx context.Context, fileID string) (FileInfo, error)
	// Fetch downloads full file content.
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}
