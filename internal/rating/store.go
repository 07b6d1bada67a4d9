// Package rating maintains append-only rating histories and folds race
// outcomes into them in timeline order.
package rating

import (
	"sort"
	"sync"
	"time"

	"github.com/yourusername/raceform/internal/models"
)

type storeKey struct {
	entity  models.EntityRef
	stratum string
}

// Store holds the append-only rating history for every entity. When
// per-stratum partitioning is enabled an entity's histories in different
// race types evolve independently; otherwise the stratum carried on each
// snapshot is provenance only.
//
// Appends are single-writer; reads may run concurrently with each other.
type Store struct {
	mu        sync.RWMutex
	histories map[storeKey][]models.RatingSnapshot
	byStratum bool
	size      int
}

// NewStore creates an empty store.
func NewStore(perStratum bool) *Store {
	return &Store{
		histories: make(map[storeKey][]models.RatingSnapshot),
		byStratum: perStratum,
	}
}

// PerStratum reports whether histories are partitioned by race type.
func (s *Store) PerStratum() bool {
	return s.byStratum
}

func (s *Store) key(entity models.EntityRef, stratum string) storeKey {
	if !s.byStratum {
		stratum = ""
	}
	return storeKey{entity: entity, stratum: stratum}
}

// Append adds one snapshot to the entity's history. History is never
// rewritten: a snapshot dated before the entity's latest is rejected with an
// ordering error. Equal timestamps are allowed and keep append order.
func (s *Store) Append(snap models.RatingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(snap.Entity, snap.Stratum)
	hist := s.histories[k]
	if n := len(hist); n > 0 && snap.At.Before(hist[n-1].At) {
		return &models.OrderingError{
			RaceID:    snap.RaceID,
			RaceStart: snap.At,
			LastID:    hist[n-1].RaceID,
			LastStart: hist[n-1].At,
		}
	}
	s.histories[k] = append(hist, snap)
	s.size++
	return nil
}

// AsOf returns the latest snapshot recorded strictly before t. The strict
// inequality is what keeps same-instant outcomes out of their own features.
// Lookup is a binary search over the entity's history.
func (s *Store) AsOf(entity models.EntityRef, stratum string, t time.Time) (models.RatingSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.histories[s.key(entity, stratum)]
	idx := sort.Search(len(hist), func(i int) bool {
		return !hist[i].At.Before(t)
	})
	if idx == 0 {
		return models.RatingSnapshot{}, false
	}
	return hist[idx-1], true
}

// Latest returns the entity's newest snapshot.
func (s *Store) Latest(entity models.EntityRef, stratum string) (models.RatingSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.histories[s.key(entity, stratum)]
	if len(hist) == 0 {
		return models.RatingSnapshot{}, false
	}
	return hist[len(hist)-1], true
}

// History returns a copy of the entity's snapshots in append order.
func (s *Store) History(entity models.EntityRef, stratum string) []models.RatingSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.histories[s.key(entity, stratum)]
	out := make([]models.RatingSnapshot, len(hist))
	copy(out, hist)
	return out
}

// Size returns the total snapshot count across all entities.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Snapshots returns every snapshot ordered by (time, race ID, entity) for
// deterministic persistence and export.
func (s *Store) Snapshots() []models.RatingSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.RatingSnapshot, 0, s.size)
	for _, hist := range s.histories {
		out = append(out, hist...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		if out[i].RaceID != out[j].RaceID {
			return out[i].RaceID < out[j].RaceID
		}
		if out[i].Entity.Kind != out[j].Entity.Kind {
			return out[i].Entity.Kind < out[j].Entity.Kind
		}
		return out[i].Entity.ID < out[j].Entity.ID
	})
	return out
}

// Clone returns an independent deep copy. Evaluation folds clone the store
// so they can never observe each other's updates.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Store{
		histories: make(map[storeKey][]models.RatingSnapshot, len(s.histories)),
		byStratum: s.byStratum,
		size:      s.size,
	}
	for k, hist := range s.histories {
		copied := make([]models.RatingSnapshot, len(hist))
		copy(copied, hist)
		clone.histories[k] = copied
	}
	return clone
}
