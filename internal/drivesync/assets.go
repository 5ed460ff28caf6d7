package drivesync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// assetCache mirrors mapped image files on local disk. The lock covers only
// the index; downloads run outside it, deduplicated per file id, so one slow
// fetch cannot stall reads of other assets or the stats surface.
type assetCache struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	byID     map[string]*assetEntry
	inflight map[string]chan struct{}
}

type assetEntry struct {
	fileID     string
	filename   string
	checksum   string
	path       string
	size       int64
	lastAccess time.Time
}

func newAssetCache(dir string, maxBytes int64) *assetCache {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("failed to create asset cache dir %s: %v", dir, err)
		}
	}
	return &assetCache{
		dir:      dir,
		maxBytes: maxBytes,
		byID:     make(map[string]*assetEntry),
		inflight: make(map[string]chan struct{}),
	}
}

// get returns asset bytes, downloading (and revalidating against the remote
// checksum) when the local copy is missing or stale.
func (a *assetCache) get(ctx context.Context, fetcher Fetcher, m ImageMapping) ([]byte, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: no fetcher configured", ErrNotFound)
	}

	info, err := fetcher.StatID(ctx, m.FileID)
	if err != nil {
		return nil, err
	}

	for {
		a.mu.Lock()
		if e, ok := a.byID[m.FileID]; ok && e.checksum == info.MD5Checksum {
			data, err := os.ReadFile(e.path)
			if err == nil {
				e.lastAccess = time.Now()
				a.mu.Unlock()
				return data, nil
			}
			// Local file vanished; fall through to re-download.
			delete(a.byID, m.FileID)
		}
		done, fetching := a.inflight[m.FileID]
		if !fetching {
			done = make(chan struct{})
			a.inflight[m.FileID] = done
		}
		a.mu.Unlock()

		if fetching {
			// Another reader is downloading this id; wait and re-check.
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := a.download(ctx, fetcher, m, info)

		a.mu.Lock()
		delete(a.inflight, m.FileID)
		a.mu.Unlock()
		close(done)
		return data, err
	}
}

// download runs outside the index lock. On success it installs the entry and
// trims the cache to its size budget.
func (a *assetCache) download(ctx context.Context, fetcher Fetcher, m ImageMapping, info FileInfo) ([]byte, error) {
	data, err := fetcher.Fetch(ctx, m.FileID)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(data)
	if got := hex.EncodeToString(sum[:]); info.MD5Checksum != "" && got != info.MD5Checksum {
		return nil, fmt.Errorf("asset %s checksum mismatch: got %s want %s", m.Filename, got, info.MD5Checksum)
	}

	path := filepath.Join(a.dir, m.Filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("cache asset %s: %w", m.Filename, err)
	}

	a.mu.Lock()
	a.byID[m.FileID] = &assetEntry{
		fileID:     m.FileID,
		filename:   m.Filename,
		checksum:   info.MD5Checksum,
		path:       path,
		size:       int64(len(data)),
		lastAccess: time.Now(),
	}
	a.evict(m.FileID)
	a.mu.Unlock()
	log.Printf("📷 asset cached: %s (%d bytes)", m.Filename, len(data))
	return data, nil
}

// evict drops least-recently-used entries until total size fits the budget.
// keep is the id of the entry being served right now and is never evicted.
func (a *assetCache) evict(keep string) {
	if a.maxBytes <= 0 {
		return
	}
	total := int64(0)
	for _, e := range a.byID {
		total += e.size
	}
	for total > a.maxBytes {
		var oldest *assetEntry
		for id, e := range a.byID {
			if id == keep {
				continue
			}
			if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
				oldest = e
			}
		}
		if oldest == nil {
			return
		}
		delete(a.byID, oldest.fileID)
		if err := os.Remove(oldest.path); err != nil && !os.IsNotExist(err) {
			log.Printf("failed to evict asset %s: %v", oldest.filename, err)
		}
		total -= oldest.size
	}
}

func (a *assetCache) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byID)
}
