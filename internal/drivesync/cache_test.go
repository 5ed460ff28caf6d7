package drivesync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type fakeFetcher struct {
	mu       sync.Mutex
	files    map[string]string // name -> content; id is "id-"+name
	statErr  error
	fetchErr error
	fetches  int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: make(map[string]string)}
}

func (f *fakeFetcher) set(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = content
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (f *fakeFetcher) Stat(_ context.Context, name string) (FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statErr != nil {
		return FileInfo{}, f.statErr
	}
	content, ok := f.files[name]
	if !ok {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return FileInfo{ID: "id-" + name, Name: name, MD5Checksum: md5hex(content), Size: int64(len(content))}, nil
}

func (f *fakeFetcher) StatID(ctx context.Context, fileID string) (FileInfo, error) {
	return f.Stat(ctx, fileID[len("id-"):])
}

func (f *fakeFetcher) Fetch(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	content, ok := f.files[fileID[len("id-"):]]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	return []byte(content), nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts)
}

const mapJSONv1 = `{"version":1,"mappings":[{"keyword":"arch","filename":"arch.png","file_id":"id-arch.png"}]}`

func newTestCache(t *testing.T, f Fetcher, n AlertNotifier) *Cache {
	t.Helper()
	return NewCache(f, n, t.TempDir(), 1<<20, 3)
}

func TestRefreshAdoptsRemoteConfig(t *testing.T) {
	f := newFakeFetcher()
	f.set(PromptDocName, "be nice")
	f.set(ImageMapDocName, mapJSONv1)
	c := newTestCache(t, f, nil)

	changed, err := c.Refresh(context.Background())
	if err != nil || !changed {
		t.Fatalf("refresh: changed=%v err=%v", changed, err)
	}

	snap := c.Current()
	if snap.Prompt.Content != "be nice" {
		t.Fatalf("prompt not adopted: %q", snap.Prompt.Content)
	}
	if _, ok := snap.Images.ByKeyword("ARCH"); !ok {
		t.Fatalf("mapping lookup (case-insensitive) failed")
	}
	if snap.Version != 1 {
		t.Fatalf("version = %d, want 1", snap.Version)
	}
}

func TestRefreshUnchangedIsNoop(t *testing.T) {
	f := newFakeFetcher()
	f.set(PromptDocName, "be nice")
	f.set(ImageMapDocName, mapJSONv1)
	c := newTestCache(t, f, nil)

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	before := c.Current()

	changed, err := c.Refresh(context.Background())
	if err != nil || changed {
		t.Fatalf("second refresh should be a no-op: changed=%v err=%v", changed, err)
	}
	if c.Current() != before {
		t.Fatalf("snapshot pointer replaced without a change")
	}
}

func TestFailedRefreshKeepsPriorSnapshot(t *testing.T) {
	f := newFakeFetcher()
	f.set(PromptDocName, "be nice")
	f.set(ImageMapDocName, mapJSONv1)
	c := newTestCache(t, f, nil)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}
	before := c.Current()

	f.set(PromptDocName, "be nicer")
	f.fetchErr = errors.New("network down")
	changed, err := c.Refresh(context.Background())
	if err == nil || changed {
		t.Fatalf("refresh should have failed: changed=%v err=%v", changed, err)
	}
	if c.Current() != before {
		t.Fatalf("failed refresh replaced the snapshot")
	}
}

func TestMalformedImageMapRejected(t *testing.T) {
	f := newFakeFetcher()
	f.set(PromptDocName, "be nice")
	f.set(ImageMapDocName, mapJSONv1)
	c := newTestCache(t, f, nil)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}
	before := c.Current()

	f.set(ImageMapDocName, `{"mappings": [broken`)
	if _, err := c.Refresh(context.Background()); err == nil {
		t.Fatalf("malformed image map accepted")
	}
	if c.Current() != before {
		t.Fatalf("malformed update replaced the snapshot")
	}
}

func TestFailureThresholdAlertsOnce(t *testing.T) {
	f := newFakeFetcher()
	f.statErr = errors.New("network down")
	n := &fakeNotifier{}
	c := newTestCache(t, f, n)

	for i := 0; i < 5; i++ {
		_, _ = c.Refresh(context.Background())
	}
	if n.count() != 1 {
		t.Fatalf("want exactly 1 alert after threshold, got %d", n.count())
	}

	// Recovery resets the counter and re-arms alerting.
	f.statErr = nil
	f.set(PromptDocName, "ok")
	f.set(ImageMapDocName, mapJSONv1)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("recovery refresh: %v", err)
	}
	if got := c.Stats().ConsecutiveFailures; got != 0 {
		t.Fatalf("failure counter not reset: %d", got)
	}

	f.statErr = errors.New("down again")
	for i := 0; i < 3; i++ {
		_, _ = c.Refresh(context.Background())
	}
	if n.count() != 2 {
		t.Fatalf("want second alert after re-crossing threshold, got %d", n.count())
	}
}

func TestRefreshSwapIsAtomic(t *testing.T) {
	f := newFakeFetcher()
	f.set(PromptDocName, "rev1")
	f.set(ImageMapDocName, `{"version":1,"mappings":[]}`)
	c := newTestCache(t, f, nil)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}

	// Both documents advance together; readers must never observe rev1
	// prompt text paired with the rev2 mapping table or vice versa.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10_000; i++ {
			snap := c.Current()
			switch snap.Prompt.Content {
			case "rev1":
				if snap.Images.Version != 1 {
					t.Errorf("torn snapshot: prompt rev1 with image version %d", snap.Images.Version)
					return
				}
			case "rev2":
				if snap.Images.Version != 2 {
					t.Errorf("torn snapshot: prompt rev2 with image version %d", snap.Images.Version)
					return
				}
			}
		}
	}()

	f.set(PromptDocName, "rev2")
	f.set(ImageMapDocName, `{"version":2,"mappings":[]}`)
	if changed, err := c.Refresh(context.Background()); err != nil || !changed {
		t.Fatalf("refresh to rev2: changed=%v err=%v", changed, err)
	}
	<-done
}

func TestAssetFetchAndRevalidation(t *testing.T) {
	f := newFakeFetcher()
	f.set(PromptDocName, "p")
	f.set(ImageMapDocName, mapJSONv1)
	f.set("arch.png", "png-bytes-v1")
	c := newTestCache(t, f, nil)
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	data, filename, err := c.Asset(context.Background(), "arch")
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	if string(data) != "png-bytes-v1" || filename != "arch.png" {
		t.Fatalf("unexpected asset: %q %q", data, filename)
	}

	// Remote content changes: the checksum no longer matches the local copy,
	// so the next lookup re-downloads.
	f.set("arch.png", "png-bytes-v2")
	data, _, err = c.Asset(context.Background(), "arch")
	if err != nil {
		t.Fatalf("asset after change: %v", err)
	}
	if string(data) != "png-bytes-v2" {
		t.Fatalf("stale asset served: %q", data)
	}

	if _, _, err := c.Asset(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown keyword: want ErrNotFound, got %v", err)
	}
}

func TestUnconfiguredCacheServesDefaults(t *testing.T) {
	c := NewCache(nil, nil, t.TempDir(), 0, 3)

	changed, err := c.Refresh(context.Background())
	if changed || err != nil {
		t.Fatalf("unconfigured refresh: changed=%v err=%v", changed, err)
	}
	if c.Current().Prompt.Content != DefaultPrompt {
		t.Fatalf("default prompt not served")
	}
}
