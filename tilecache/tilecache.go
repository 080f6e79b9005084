// Package tilecache implements C4: an LRU cache of sealed DEM tiles
// loaded on demand through a user-supplied Updater.
//
// Grounded on the CacheEntry/Stats() shape of the teacher's
// internal/cache/tilecache.go and internal/cache/config.go, with the
// teacher's hand-rolled map+bubble-sort eviction promoted to
// hashicorp/golang-lru/v2 (present, indirect, in the teacher's go.mod).
package tilecache

import (
	"errors"
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"pushbroom/dem"
)

// ErrTileUnavailable / ErrHeterogeneousTiles are the §7 error kinds this
// package can raise.
var (
	ErrTileUnavailable    = errors.New("tilecache: updater could not provide a tile")
	ErrHeterogeneousTiles = errors.New("tilecache: tile step differs from the cache's established step")
)

// Updater is the inbound collaborator (§6): given a query point, it sets
// geometry once on the supplied tile, then every elevation node. The
// cache seals the tile itself once the updater returns.
type Updater interface {
	UpdateTile(lat, lon float64, tile *dem.Tile) error
}

// UpdaterFunc adapts a plain function to Updater.
type UpdaterFunc func(lat, lon float64, tile *dem.Tile) error

// UpdateTile implements Updater.
func (f UpdaterFunc) UpdateTile(lat, lon float64, tile *dem.Tile) error { return f(lat, lon, tile) }

type gridKey struct {
	Row, Col int
}

type stepInfo struct {
	latStep, lonStep     float64
	latExtent, lonExtent float64
}

// Cache is the LRU paged tile store (§4.2). It is owned exclusively by
// one engine instance (§5) and is not safe for concurrent use from
// multiple goroutines without external synchronization at a higher
// layer than a single location call.
type Cache struct {
	mu      sync.Mutex
	tiles   *lru.Cache[gridKey, *dem.Tile]
	updater Updater
	step    *stepInfo

	accessCount uint64
}

// New builds a tile cache of the given capacity (§4.2 "capacity is
// configured at construction").
func New(capacity int, updater Updater) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("tilecache: capacity must be positive, got %d", capacity)
	}
	l, err := lru.New[gridKey, *dem.Tile](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{tiles: l, updater: updater}, nil
}

// AccessCount returns the number of GetTile calls served so far (hits
// and misses). The intersector snapshots this at the start of an
// intersection and aborts with INTERSECTION_DOES_NOT_CONVERGE if it
// advances past the configured watchdog threshold before a hit is
// found (§4.2 "a counter... to detect infinite ping-ponging").
func (c *Cache) AccessCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessCount
}

// Len reports how many tiles are currently resident.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tiles.Len()
}

// GetTile returns the sealed tile containing (lat, lon), loading it
// through the Updater on miss. The returned pointer is a stable handle:
// eviction from the LRU only drops the cache's own reference, it never
// mutates or invalidates a tile a caller is still holding (§3
// Lifecycles, §4.2 "borrowed reference").
func (c *Cache) GetTile(lat, lon float64) (*dem.Tile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessCount++

	if c.step != nil {
		key := c.keyForPoint(lat, lon)
		if tile, ok := c.tiles.Get(key); ok {
			return tile, nil
		}
	}

	tile := dem.NewTile()
	if err := c.updater.UpdateTile(lat, lon, tile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTileUnavailable, err)
	}
	if err := tile.Seal(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTileUnavailable, err)
	}

	latExtent := tile.LatitudeStep() * float64(tile.Rows()-1)
	lonExtent := tile.LongitudeStep() * float64(tile.Cols()-1)

	if c.step == nil {
		c.step = &stepInfo{
			latStep: tile.LatitudeStep(), lonStep: tile.LongitudeStep(),
			latExtent: latExtent, lonExtent: lonExtent,
		}
	} else if !closeEnough(c.step.latStep, tile.LatitudeStep()) || !closeEnough(c.step.lonStep, tile.LongitudeStep()) {
		return nil, ErrHeterogeneousTiles
	}

	key := c.keyForGeometry(tile.MinLatitude(), tile.MinLongitude())
	c.tiles.Add(key, tile)
	return tile, nil
}

func (c *Cache) keyForPoint(lat, lon float64) gridKey {
	return gridKey{
		Row: int(math.Floor(lat / c.step.latExtent)),
		Col: int(math.Floor(lon / c.step.lonExtent)),
	}
}

func (c *Cache) keyForGeometry(minLat, minLon float64) gridKey {
	return gridKey{
		Row: int(math.Round(minLat / c.step.latExtent)),
		Col: int(math.Round(minLon / c.step.lonExtent)),
	}
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
