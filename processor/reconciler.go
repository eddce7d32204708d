package processor

import (
	"sort"
	"sync"
	"sync/atomic"

	"coinflow/logger"
	"coinflow/models"
)

// SnapshotStore is the durable side channel for the reconciled dataset. Save
// is called with the complete post-merge snapshot on every update.
type SnapshotStore interface {
	Save(coins []models.Coin) error
	Load() ([]models.Coin, error)
}

// snapshot is one immutable generation of the cache. Readers grab the current
// pointer and work on it without any further synchronization; a generation is
// never mutated after publication.
type snapshot struct {
	coins []models.Coin
	index map[string]int
}

func newSnapshot(coins []models.Coin) *snapshot {
	index := make(map[string]int, len(coins))
	for i, c := range coins {
		index[c.ID] = i
	}
	return &snapshot{coins: coins, index: index}
}

// Reconciler owns the authoritative in-memory view of all tracked coins. It
// is the single writer; updates build a fresh snapshot off to the side and
// publish it with an atomic pointer swap, so concurrent readers always see a
// fully old or fully new generation, never a partial merge.
//
// Merge semantics: a fetched record replaces the cached record with the same
// ID wholesale, genuinely new IDs are appended, and IDs absent from the fetch
// are retained. The cache is therefore a superset across fetch cycles. When a
// size bound is configured the merged set is sorted by rank and truncated, so
// only the lowest-ranked surplus is ever evicted.
type Reconciler struct {
	maxSize int
	store   SnapshotStore
	current atomic.Pointer[snapshot]
	mu      sync.Mutex
	log     *logger.Log

	updatesApplied int64
	coinsMerged    int64
}

// NewReconciler creates an empty reconciler. maxSize <= 0 disables the size
// bound; store may be nil when no durable side channel is wanted.
func NewReconciler(maxSize int, store SnapshotStore) *Reconciler {
	r := &Reconciler{
		maxSize: maxSize,
		store:   store,
		log:     logger.GetLogger(),
	}
	r.current.Store(newSnapshot(nil))

	r.log.WithComponent("reconciler").WithFields(logger.Fields{
		"max_size": maxSize,
		"durable":  store != nil,
	}).Info("reconciler initialized")

	return r
}

// Hydrate replaces the current snapshot with the stored one. Intended for
// process start; a missing or reset store yields an empty cache.
func (r *Reconciler) Hydrate() error {
	if r.store == nil {
		return nil
	}
	coins, err := r.store.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.current.Store(newSnapshot(coins))
	r.mu.Unlock()

	r.log.WithComponent("reconciler").WithFields(logger.Fields{
		"coins": len(coins),
	}).Info("cache hydrated from snapshot store")
	return nil
}

// Update merges the fetched records into the snapshot and publishes the
// result. Records without an ID are dropped at the boundary; duplicate IDs
// within one call resolve to the last occurrence.
func (r *Reconciler) Update(newCoins []models.Coin) {
	incoming := make(map[string]models.Coin, len(newCoins))
	order := make([]string, 0, len(newCoins))
	for _, c := range newCoins {
		if c.ID == "" {
			continue
		}
		if _, seen := incoming[c.ID]; !seen {
			order = append(order, c.ID)
		}
		incoming[c.ID] = c
	}
	if len(incoming) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	merged := make([]models.Coin, 0, len(prev.coins)+len(incoming))
	replaced := 0
	for _, existing := range prev.coins {
		if fresh, ok := incoming[existing.ID]; ok {
			merged = append(merged, fresh)
			delete(incoming, existing.ID)
			replaced++
			continue
		}
		merged = append(merged, existing)
	}
	appended := 0
	for _, id := range order {
		if fresh, ok := incoming[id]; ok {
			merged = append(merged, fresh)
			appended++
		}
	}

	evicted := 0
	if r.maxSize > 0 && len(merged) > r.maxSize {
		sortByRank(merged)
		evicted = len(merged) - r.maxSize
		merged = merged[:r.maxSize]
	}

	next := newSnapshot(merged)

	// Persist before publishing so readers of the new generation never see
	// state the store has not been offered. A failed save is logged and the
	// merge still commits; the next update resubmits the full snapshot.
	if r.store != nil {
		if err := r.store.Save(merged); err != nil {
			r.log.WithComponent("reconciler").WithError(err).Error("failed to persist snapshot")
		}
	}

	r.current.Store(next)

	atomic.AddInt64(&r.updatesApplied, 1)
	atomic.AddInt64(&r.coinsMerged, int64(len(newCoins)))

	r.log.WithComponent("reconciler").WithFields(logger.Fields{
		"incoming": len(newCoins),
		"replaced": replaced,
		"appended": appended,
		"evicted":  evicted,
		"total":    len(merged),
	}).Info("snapshot updated")
	r.log.LogMetric("reconciler", "snapshot_size", len(merged), "gauge", logger.Fields{})
}

// GetAll returns a copy of the current snapshot.
func (r *Reconciler) GetAll() []models.Coin {
	snap := r.current.Load()
	out := make([]models.Coin, len(snap.coins))
	copy(out, snap.coins)
	return out
}

// GetByIDs returns the cached records for the given IDs, skipping unknown or
// blank IDs.
func (r *Reconciler) GetByIDs(ids []string) []models.Coin {
	snap := r.current.Load()
	out := make([]models.Coin, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if i, ok := snap.index[id]; ok {
			out = append(out, snap.coins[i])
		}
	}
	return out
}

// GetTopN returns the n best-ranked coins in rank order. Coins with a
// non-positive rank are unranked and never appear in the result.
func (r *Reconciler) GetTopN(n int) []models.Coin {
	if n <= 0 {
		return nil
	}
	snap := r.current.Load()

	ranked := make([]models.Coin, 0, len(snap.coins))
	for _, c := range snap.coins {
		if c.Ranked() {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].MarketCapRank < ranked[j].MarketCapRank
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Size returns the number of coins in the current snapshot.
func (r *Reconciler) Size() int {
	return len(r.current.Load().coins)
}

// Stats returns cumulative update counters.
func (r *Reconciler) Stats() (updates, merged int64) {
	return atomic.LoadInt64(&r.updatesApplied), atomic.LoadInt64(&r.coinsMerged)
}

// sortByRank orders coins by ascending rank with unranked entries last, so a
// truncation keeps the best-ranked records.
func sortByRank(coins []models.Coin) {
	sort.SliceStable(coins, func(i, j int) bool {
		ri, rj := coins[i].MarketCapRank, coins[j].MarketCapRank
		if coins[i].Ranked() != coins[j].Ranked() {
			return coins[i].Ranked()
		}
		return ri < rj
	})
}
