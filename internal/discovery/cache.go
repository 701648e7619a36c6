package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/floodscope/acquirer/internal/scene"
)

// CachedCatalog wraps a Catalog with an on-disk result cache. Catalog
// queries for a fixed event window return the same scenes on every
// re-run, so caching lets a resumed run skip the search round trips.
//
// Entries are zstd-compressed JSON files keyed by a hash of the query,
// written via temp file and rename so a crash never leaves a partial
// entry behind.
type CachedCatalog struct {
	inner Catalog
	dir   string
	ttl   time.Duration
	log   *slog.Logger
}

// NewCachedCatalog creates the cache directory if needed. A zero ttl
// means entries never expire.
func NewCachedCatalog(inner Catalog, dir string, ttl time.Duration) (*CachedCatalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &CachedCatalog{
		inner: inner,
		dir:   dir,
		ttl:   ttl,
		log:   slog.With("component", "discovery-cache"),
	}, nil
}

type cacheEntry struct {
	Query    Query         `json:"query"`
	Scenes   []cachedScene `json:"scenes"`
	CachedAt time.Time     `json:"cached_at"`
}

// cachedScene carries the scene fields through JSON. Geometry is held
// as WKT because geom.Geometry has no stable JSON round trip.
type cachedScene struct {
	ID           string        `json:"id"`
	Collection   string        `json:"collection"`
	Satellite    string        `json:"satellite"`
	FootprintWKT string        `json:"footprint_wkt"`
	CloudCover   float64       `json:"cloud_cover"`
	UTCTime      time.Time     `json:"utc_time"`
	SolarTime    time.Time     `json:"solar_time"`
	LocalTime    time.Time     `json:"local_time"`
	SolarDay     string        `json:"solar_day"`
	HasCloudProb bool          `json:"has_cloud_prob"`
	Purpose      scene.Purpose `json:"purpose"`
}

// Scenes returns the cached result when a fresh entry exists, otherwise
// queries the inner catalog and stores the result. Cache failures are
// logged and fall through to the inner catalog; a broken cache must not
// block discovery.
func (c *CachedCatalog) Scenes(ctx context.Context, q Query) ([]scene.CandidateScene, error) {
	path := c.entryPath(q)

	if scenes, ok := c.load(path); ok {
		c.log.Debug("cache hit", "path", path, "scenes", len(scenes))
		return scenes, nil
	}

	scenes, err := c.inner.Scenes(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := c.store(path, q, scenes); err != nil {
		c.log.Warn("failed to write cache entry", "path", path, "error", err)
	}
	return scenes, nil
}

func (c *CachedCatalog) entryPath(q Query) string {
	key := struct {
		Collections []string
		RegionWKT   string
		Start, End  time.Time
		Purpose     scene.Purpose
	}{q.Collections, q.RegionWKT, q.Start.UTC(), q.End.UTC(), q.Purpose}

	raw, _ := json.Marshal(key)
	sum := sha256.Sum256(raw)
	return filepath.Join(c.dir, hex.EncodeToString(sum[:16])+".json.zst")
}

func (c *CachedCatalog) load(path string) ([]scene.CandidateScene, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		c.log.Warn("corrupt cache entry", "path", path, "error", err)
		return nil, false
	}
	defer dec.Close()

	var entry cacheEntry
	if err := json.NewDecoder(dec).Decode(&entry); err != nil {
		c.log.Warn("corrupt cache entry", "path", path, "error", err)
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.CachedAt) > c.ttl {
		return nil, false
	}

	scenes := make([]scene.CandidateScene, 0, len(entry.Scenes))
	for _, cs := range entry.Scenes {
		s, err := cs.toScene()
		if err != nil {
			c.log.Warn("corrupt cache entry", "path", path, "error", err)
			return nil, false
		}
		scenes = append(scenes, s)
	}
	return scenes, true
}

func (c *CachedCatalog) store(path string, q Query, scenes []scene.CandidateScene) error {
	entry := cacheEntry{Query: q, CachedAt: time.Now().UTC()}
	entry.Scenes = make([]cachedScene, 0, len(scenes))
	for _, s := range scenes {
		entry.Scenes = append(entry.Scenes, fromScene(s))
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(entry); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp entry: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename entry into place: %w", err)
	}
	return nil
}

var _ Catalog = (*CachedCatalog)(nil)

func fromScene(s scene.CandidateScene) cachedScene {
	return cachedScene{
		ID:           s.ID,
		Collection:   s.Collection,
		Satellite:    s.Satellite,
		FootprintWKT: s.Footprint.AsText(),
		CloudCover:   s.CloudCover,
		UTCTime:      s.UTCTime,
		SolarTime:    s.SolarTime,
		LocalTime:    s.LocalTime,
		SolarDay:     s.SolarDay,
		HasCloudProb: s.HasCloudProb,
		Purpose:      s.Purpose,
	}
}

func (cs cachedScene) toScene() (scene.CandidateScene, error) {
	footprint, err := geom.UnmarshalWKT(cs.FootprintWKT)
	if err != nil {
		return scene.CandidateScene{}, fmt.Errorf("scene %s: %w", cs.ID, err)
	}
	return scene.CandidateScene{
		ID:           cs.ID,
		Collection:   cs.Collection,
		Satellite:    cs.Satellite,
		Footprint:    footprint,
		CloudCover:   cs.CloudCover,
		UTCTime:      cs.UTCTime,
		SolarTime:    cs.SolarTime,
		LocalTime:    cs.LocalTime,
		SolarDay:     cs.SolarDay,
		HasCloudProb: cs.HasCloudProb,
		Purpose:      cs.Purpose,
	}, nil
}
