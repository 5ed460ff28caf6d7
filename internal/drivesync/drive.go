package drivesync

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveFetcher reads documents and assets from a single Google Drive folder
// using a read-only service account.
type DriveFetcher struct {
	srv      *drive.Service
	folderID string
}

func NewDriveFetcher(ctx context.Context, serviceAccountFile, folderID string) (*DriveFetcher, error) {
	srv, err := drive.NewService(ctx,
		option.WithCredentialsFile(serviceAccountFile),
		option.WithScopes(drive.DriveReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init drive service: %w", err)
	}
	return &DriveFetcher{srv: srv, folderID: folderID}, nil
}

func (f *DriveFetcher) Stat(ctx context.Context, name string) (FileInfo, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false",
		strings.ReplaceAll(name, "'", `\'`), f.folderID)
	res, err := f.srv.Files.List().
		Q(query).
		Fields("files(id, name, md5Checksum, modifiedTime, size)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return FileInfo{}, fmt.Errorf("drive list %s: %w", name, err)
	}
	if len(res.Files) == 0 {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return toFileInfo(res.Files[0]), nil
}

func (f *DriveFetcher) StatID(ctx context.Context, fileID string) (FileInfo, error) {
	file, err := f.srv.Files.Get(fileID).
		Fields("id, name, md5Checksum, modifiedTime, size").
		Context(ctx).
		Do()
	if err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 404 {
			return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return FileInfo{}, fmt.Errorf("drive get %s: %w", fileID, err)
	}
	return toFileInfo(file), nil
}

func (f *DriveFetcher) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := f.srv.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 404 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("drive download %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("drive download %s: %w", fileID, err)
	}
	return data, nil
}

func toFileInfo(f *drive.File) FileInfo {
	info := FileInfo{
		ID:          f.Id,
		Name:        f.Name,
		MD5Checksum: f.Md5Checksum,
		Size:        f.Size,
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			info.ModifiedTime = t
		}
	}
	return info
}
