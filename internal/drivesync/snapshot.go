package drivesync

import (
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Tracked document names inside the Drive folder.
const (
	PromptDocName   = "system_prompt.md"
	ImageMapDocName = "image_map.json"
)

// DefaultPrompt is used until the first successful sync, and permanently when
// Drive is not configured.
const DefaultPrompt = `You are a helpful AI assistant in a LINE group chat.
Respond concisely and helpfully in the same language the user uses.
If analyzing images, describe what you see clearly and answer any questions about the content.
Be friendly but professional.`

// Snapshot is the active configuration. Replaced wholesale on refresh, never
// mutated in place, so readers holding a *Snapshot always see one internally
// consistent revision.
type Snapshot struct {
	Prompt      PromptDoc
	Images      ImageConfig
	Version     int
	RefreshedAt time.Time
}

// PromptDoc is the instruction text with its change-detection metadata.
type PromptDoc struct {
	Content      string
	FileID       string
	Checksum     string
	ModifiedTime time.Time
}

// ImageConfig is the keyword→asset mapping table parsed from image_map.json.
type ImageConfig struct {
	FileID    string
	Checksum  string
	Version   int
	Mappings  []ImageMapping
	byKeyword map[string]int
}

type ImageMapping struct {
	Keyword  string `json:"keyword"`
	Filename string `json:"filename"`
	FileID   string `json:"file_id"`
}

// ByKeyword looks a mapping up case-insensitively.
func (c *ImageConfig) ByKeyword(keyword string) (ImageMapping, bool) {
	i, ok := c.byKeyword[strings.ToLower(keyword)]
	if !ok {
		return ImageMapping{}, false
	}
	return c.Mappings[i], true
}

func (c *ImageConfig) Keywords() []string {
	out := make([]string, 0, len(c.Mappings))
	for _, m := range c.Mappings {
		out = append(out, m.Keyword)
	}
	return out
}

var (
	keywordPattern  = regexp.MustCompile(`^[\p{L}\p{N}\-_]+$`)
	imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true}
)

type imageMapFile struct {
	Mappings []ImageMapping `json:"mappings"`
	Version  int            `json:"version"`
}

// ParseImageConfig parses and validates image_map.json. A structurally
// malformed document is an error (the previous config must be retained);
// individually invalid mappings are skipped with a log line.
func ParseImageConfig(data []byte, fileID, checksum string) (ImageConfig, error) {
	var raw imageMapFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return ImageConfig{}, fmt.Errorf("invalid image_map.json: %w", err)
	}

	cfg := ImageConfig{
		FileID:    fileID,
		Checksum:  checksum,
		Version:   raw.Version,
		byKeyword: make(map[string]int),
	}
	for _, m := range raw.Mappings {
		if err := validateMapping(m); err != nil {
			log.Printf("skipping invalid image mapping %q: %v", m.Keyword, err)
			continue
		}
		cfg.byKeyword[strings.ToLower(m.Keyword)] = len(cfg.Mappings)
		cfg.Mappings = append(cfg.Mappings, m)
	}
	return cfg, nil
}

func validateMapping(m ImageMapping) error {
	if m.Keyword == "" {
		return fmt.Errorf("empty keyword")
	}
	if !keywordPattern.MatchString(m.Keyword) {
		return fmt.Errorf("keyword contains invalid characters")
	}
	if m.FileID == "" {
		return fmt.Errorf("missing file_id")
	}
	if ext := strings.ToLower(filepath.Ext(m.Filename)); !imageExtensions[ext] {
		return fmt.Errorf("unsupported image extension %q", ext)
	}
	return nil
}

func defaultSnapshot() *Snapshot {
	return &Snapshot{
		Prompt:      PromptDoc{Content: DefaultPrompt},
		Images:      ImageConfig{byKeyword: make(map[string]int)},
		Version:     0,
		RefreshedAt: time.Time{},
	}
}
