package unipept

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// DefaultCacheTTL is how long cached taxonomy records stay fresh.
const DefaultCacheTTL = 7 * 24 * time.Hour

type cachedEntry struct {
	Record      row   `json:"record"`
	RetrievedAt int64 `json:"retrieved_at"`
}

// Cache keeps raw taxonomy records in a JSON file keyed by taxon id.
type Cache struct {
	mu      sync.RWMutex
	path    string
	ttl     time.Duration
	entries map[string]cachedEntry
	loaded  bool
	now     func() time.Time
}

// NewCache returns a cache stored at path. A ttl of zero never expires.
func NewCache(path string, ttl time.Duration) *Cache {
	return &Cache{path: path, ttl: ttl, now: time.Now}
}

// DefaultCachePath is under the user cache dir, or the temp dir as a
// fallback.
func DefaultCachePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		p := filepath.Join(dir, "peptaxa")
		_ = os.MkdirAll(p, 0o755)
		return filepath.Join(p, "unipept_cache.json")
	}
	return filepath.Join(os.TempDir(), "peptaxa_unipept_cache.json")
}

func (c *Cache) load() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return
	}
	c.entries = make(map[string]cachedEntry)
	c.loaded = true
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	// a corrupt cache is treated as empty
	_ = json.Unmarshal(data, &c.entries)
}

func (c *Cache) fresh(e cachedEntry) bool {
	if c.ttl <= 0 {
		return true
	}
	return c.now().Unix()-e.RetrievedAt <= int64(c.ttl.Seconds())
}

// lookup splits ids into cached records and ids still to fetch.
func (c *Cache) lookup(ids []int) ([]row, []int) {
	c.load()
	c.mu.RLock()
	defer c.mu.RUnlock()
	var hits []row
	var missing []int
	for _, id := range ids {
		e, ok := c.entries[strconv.Itoa(id)]
		if ok && c.fresh(e) {
			hits = append(hits, e.Record)
			continue
		}
		missing = append(missing, id)
	}
	return hits, missing
}

func (c *Cache) store(rows []row) error {
	if len(rows) == 0 {
		return nil
	}
	c.load()
	c.mu.Lock()
	now := c.now().Unix()
	for _, r := range rows {
		id, err := r.int("taxon_id")
		if err != nil {
			continue
		}
		c.entries[strconv.Itoa(id)] = cachedEntry{Record: r, RetrievedAt: now}
	}
	c.mu.Unlock()
	return c.Flush()
}

// Flush writes the cache file.
func (c *Cache) Flush() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil
	}
	b, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, b, 0o644)
}
