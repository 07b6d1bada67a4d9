package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"github.com/yourusername/raceform/internal/racemodel"
)

// PredictionCache provides TTL-bounded in-memory caching for win-probability
// assignments keyed by race and model version.
type PredictionCache struct {
	cache *cache.Cache
	ttl   time.Duration

	mu        sync.Mutex
	hitCount  uint64
	missCount uint64
}

// NewPredictionCache creates a cache whose entries expire after ttl.
func NewPredictionCache(ttl time.Duration) *PredictionCache {
	return &PredictionCache{
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func predictionCacheKey(raceID int64, modelID uuid.UUID) string {
	return fmt.Sprintf("race:%d:model:%s", raceID, modelID)
}

// Get retrieves a cached assignment.
func (pc *PredictionCache) Get(raceID int64, modelID uuid.UUID) (*racemodel.Assignment, bool) {
	if item, found := pc.cache.Get(predictionCacheKey(raceID, modelID)); found {
		if assignment, ok := item.(*racemodel.Assignment); ok {
			pc.recordHit()
			return assignment, true
		}
	}
	pc.recordMiss()
	return nil, false
}

// Set stores an assignment under the race and model version.
func (pc *PredictionCache) Set(raceID int64, modelID uuid.UUID, assignment *racemodel.Assignment) {
	pc.cache.Set(predictionCacheKey(raceID, modelID), assignment, pc.ttl)
}

// Clear flushes the cache and resets the counters.
func (pc *PredictionCache) Clear() {
	pc.cache.Flush()
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.hitCount = 0
	pc.missCount = 0
}

// ItemCount returns the number of live entries.
func (pc *PredictionCache) ItemCount() int {
	return pc.cache.ItemCount()
}

// Stats returns hit and miss counts plus the hit ratio.
func (pc *PredictionCache) Stats() (hits, misses uint64, ratio float64) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	hits = pc.hitCount
	misses = pc.missCount
	total := hits + misses
	if total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return hits, misses, ratio
}

func (pc *PredictionCache) recordHit() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.hitCount++
}

func (pc *PredictionCache) recordMiss() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.missCount++
}
