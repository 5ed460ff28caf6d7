// Package drivesync keeps a checksum-addressed local mirror of the remotely
// edited configuration: the system prompt, the keyword→image mapping, and the
// image assets the mapping refers to. The active snapshot is swapped
// atomically; readers are never blocked and never see a partial update.
package drivesync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// AlertNotifier receives out-of-band operator alerts.
type AlertNotifier interface {
	Notify(ctx context.Context, text string)
}

// Stats describes cache freshness for the status surface.
type Stats struct {
	Configured          bool      `json:"configured"`
	Version             int       `json:"version"`
	RefreshedAt         time.Time `json:"refreshed_at"`
	MappingCount        int       `json:"mapping_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CachedAssets        int       `json:"cached_assets"`
}

// Cache serves the last known-good configuration snapshot and refreshes it by
// comparing remote fingerprints. Refreshes are serialized; Current never
// blocks.
type Cache struct {
	fetcher       Fetcher
	notifier      AlertNotifier
	failThreshold int

	snapshot atomic.Pointer[Snapshot]

	refreshMu   sync.Mutex
	consecFails int
	alerted     bool

	assets *assetCache

	cron *cron.Cron
}

// NewCache builds a cache starting from the built-in default snapshot. fetcher
// may be nil when Drive is not configured; Refresh then reports unconfigured
// and Current keeps serving the defaults.
func NewCache(fetcher Fetcher, notifier AlertNotifier, assetDir string, assetMaxBytes int64, failThreshold int) *Cache {
	c := &Cache{
		fetcher:       fetcher,
		notifier:      notifier,
		failThreshold: failThreshold,
		assets:        newAssetCache(assetDir, assetMaxBytes),
	}
	c.snapshot.Store(defaultSnapshot())
	return c
}

func (c *Cache) Configured() bool { return c.fetcher != nil }

// Current returns the active snapshot. Always non-nil, never blocks.
func (c *Cache) Current() *Snapshot {
	return c.snapshot.Load()
}

// Refresh compares remote fingerprints for both tracked documents and swaps
// in a new snapshot when something changed. Any error leaves the active
// snapshot untouched and counts toward the consecutive-failure alert
// threshold.
func (c *Cache) Refresh(ctx context.Context) (bool, error) {
	if !c.Configured() {
		return false, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	cur := c.Current()
	prompt, promptChanged, err := c.refreshPrompt(ctx, cur)
	if err != nil {
		return false, c.recordFailure(ctx, err)
	}
	images, imagesChanged, err := c.refreshImageMap(ctx, cur)
	if err != nil {
		return false, c.recordFailure(ctx, err)
	}

	c.recordSuccess()
	if !promptChanged && !imagesChanged {
		return false, nil
	}

	next := &Snapshot{
		Prompt:      prompt,
		Images:      images,
		Version:     cur.Version + 1,
		RefreshedAt: time.Now(),
	}
	c.snapshot.Store(next)
	log.Printf("✅ config refreshed to version %d (prompt changed=%v, images changed=%v, mappings=%d)",
		next.Version, promptChanged, imagesChanged, len(next.Images.Mappings))
	return true, nil
}

func (c *Cache) refreshPrompt(ctx context.Context, cur *Snapshot) (PromptDoc, bool, error) {
	info, err := c.fetcher.Stat(ctx, PromptDocName)
	if err != nil {
		return PromptDoc{}, false, fmt.Errorf("stat prompt: %w", err)
	}
	if info.MD5Checksum == cur.Prompt.Checksum && cur.Prompt.Checksum != "" {
		return cur.Prompt, false, nil
	}

	data, err := c.fetcher.Fetch(ctx, info.ID)
	if err != nil {
		return PromptDoc{}, false, fmt.Errorf("fetch prompt: %w", err)
	}
	content := string(data)
	if len(content) == 0 {
		return PromptDoc{}, false, fmt.Errorf("fetched prompt is empty")
	}
	return PromptDoc{
		Content:      content,
		FileID:       info.ID,
		Checksum:     info.MD5Checksum,
		ModifiedTime: info.ModifiedTime,
	}, true, nil
}

func (c *Cache) refreshImageMap(ctx context.Context, cur *Snapshot) (ImageConfig, bool, error) {
	info, err := c.fetcher.Stat(ctx, ImageMapDocName)
	if err != nil {
		return ImageConfig{}, false, fmt.Errorf("stat image map: %w", err)
	}
	if info.MD5Checksum == cur.Images.Checksum && cur.Images.Checksum != "" {
		return cur.Images, false, nil
	}

	data, err := c.fetcher.Fetch(ctx, info.ID)
	if err != nil {
		return ImageConfig{}, false, fmt.Errorf("fetch image map: %w", err)
	}
	cfg, err := ParseImageConfig(data, info.ID, info.MD5Checksum)
	if err != nil {
		return ImageConfig{}, false, err
	}
	return cfg, true, nil
}

func (c *Cache) recordFailure(ctx context.Context, err error) error {
	c.consecFails++
	if c.consecFails >= c.failThreshold && !c.alerted {
		c.alerted = true
		log.Printf("🚨 config sync failed %d times in a row: %v", c.consecFails, err)
		if c.notifier != nil {
			c.notifier.Notify(ctx, fmt.Sprintf("config sync failing (%d consecutive): %v", c.consecFails, err))
		}
	} else {
		log.Printf("config sync failed (%d/%d): %v", c.consecFails, c.failThreshold, err)
	}
	return err
}

func (c *Cache) recordSuccess() {
	if c.consecFails > 0 {
		log.Printf("config sync recovered after %d failures", c.consecFails)
	}
	c.consecFails = 0
	c.alerted = false
}

// Asset returns the image bytes and filename for a mapping keyword, fetching
// from Drive on first use and revalidating the local copy against the
// remote-reported checksum.
func (c *Cache) Asset(ctx context.Context, keyword string) ([]byte, string, error) {
	m, ok := c.Current().Images.ByKeyword(keyword)
	if !ok {
		return nil, "", fmt.Errorf("%w: keyword %q", ErrNotFound, keyword)
	}
	data, err := c.assets.get(ctx, c.fetcher, m)
	if err != nil {
		return nil, "", err
	}
	return data, m.Filename, nil
}

// StartPolling refreshes on a fixed interval via cron, after one synchronous
// best-effort initial refresh.
func (c *Cache) StartPolling(ctx context.Context, interval time.Duration) {
	if !c.Configured() {
		log.Printf("ℹ️ drive sync not configured, using default prompts")
		return
	}

	if _, err := c.Refresh(ctx); err != nil {
		log.Printf("initial config refresh failed: %v", err)
	}

	c.cron = cron.New()
	_, err := c.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if _, err := c.Refresh(tickCtx); err != nil {
			// Already logged and counted by Refresh; nothing else to do
			// until the failure threshold escalates.
			return
		}
	})
	if err != nil {
		log.Printf("failed to schedule config polling: %v", err)
		return
	}
	c.cron.Start()
	log.Printf("✅ drive sync started (interval=%s)", interval)
}

// StopPolling stops the background driver, waiting for an in-flight tick.
func (c *Cache) StopPolling() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
		log.Printf("drive sync stopped")
	}
}

// Stats reports freshness for the status endpoint.
func (c *Cache) Stats() Stats {
	cur := c.Current()
	c.refreshMu.Lock()
	fails := c.consecFails
	c.refreshMu.Unlock()
	return Stats{
		Configured:          c.Configured(),
		Version:             cur.Version,
		RefreshedAt:         cur.RefreshedAt,
		MappingCount:        len(cur.Images.Mappings),
		ConsecutiveFailures: fails,
		CachedAssets:        c.assets.len(),
	}
}
