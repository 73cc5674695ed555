package factors

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wonny/quantk/pkg/logger"
)

// Score is one entry of a computed factor snapshot
type Score struct {
	Ticker string  `msgpack:"ticker" json:"ticker"`
	Raw    float64 `msgpack:"raw_value" json:"raw_value"`
	Score  float64 `msgpack:"score" json:"score"`
}

// snapshot is the on-disk cache record for one (factor, market, date) key
type snapshot struct {
	Factor string  `msgpack:"factor"`
	Market string  `msgpack:"market"`
	Date   string  `msgpack:"date"`
	Scores []Score `msgpack:"scores"`
}

// Cache stores factor snapshots on disk, one msgpack file per
// (factor, market, date) key. Entries expire purely by file age; writes
// replace the file wholesale. The cache is unlocked: concurrent misses for
// the same key both recompute and the later write wins, which only costs
// duplicated work because recomputation is deterministic.
// ⭐ SSOT: 팩터 캐시 파일 접근은 여기서만
type Cache struct {
	dir    string
	ttl    time.Duration
	logger *logger.Logger
}

// NewCache creates a disk cache rooted at dir with the given TTL
func NewCache(dir string, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		dir:    dir,
		ttl:    ttl,
		logger: log.WithField("component", "factor_cache"),
	}
}

func (c *Cache) path(factor, market, date string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s_%s.msgpack", factor, market, date))
}

// Load returns the cached snapshot for a key if it exists and is younger
// than the TTL. A corrupt or stale file reads as a miss.
func (c *Cache) Load(factor, market, date string) ([]Score, bool) {
	path := c.path(factor, market, date)

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) >= c.ttl {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("Discarding corrupt cache file")
		return nil, false
	}

	return snap.Scores, true
}

// Store writes a snapshot for a key, overwriting any previous file
func (c *Cache) Store(factor, market, date string, scores []Score) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := msgpack.Marshal(snapshot{
		Factor: factor,
		Market: market,
		Date:   date,
		Scores: scores,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	path := c.path(factor, market, date)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"factor": factor,
		"market": market,
		"date":   date,
		"count":  len(scores),
	}).Debug("Stored factor snapshot")
	return nil
}
