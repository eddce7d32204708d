package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"coinflow/config"
	"coinflow/internal/channel"
	"coinflow/logger"
	"coinflow/models"
	"coinflow/processor"
)

// Fetcher is the market-data source the fetch cycle pulls from.
type Fetcher interface {
	FetchTopN(ctx context.Context, pages int) ([]models.Coin, error)
	FetchByIDs(ctx context.Context, ids []string) ([]models.Coin, error)
}

// Store is the durable sink the persist cycle writes to. A nil Store keeps
// the pipeline cache-only.
type Store interface {
	Persist(ctx context.Context, coins []models.Coin) error
	ScanIDs(ctx context.Context) ([]string, error)
}

// Pipeline schedules the two independent cycles: fetching coin data into the
// batch queue, and draining the queue into the cache and durable store. Each
// cycle skips its tick when the previous run of the same cycle is still in
// flight, so a slow provider never stacks concurrent fetches.
type Pipeline struct {
	config     *config.Config
	fetcher    Fetcher
	channels   *channel.Channels
	reconciler *processor.Reconciler
	store      Store
	wg         sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log

	fetchRunning   atomic.Bool
	persistRunning atomic.Bool

	// Metrics
	fetchCycles   int64
	persistCycles int64
	cycleErrors   int64
}

func NewPipeline(cfg *config.Config, fetcher Fetcher, channels *channel.Channels, reconciler *processor.Reconciler, store Store) *Pipeline {
	return &Pipeline{
		config:     cfg,
		fetcher:    fetcher,
		channels:   channels,
		reconciler: reconciler,
		store:      store,
		log:        logger.GetLogger(),
	}
}

// Start launches the fetch and persist schedulers. Both run one cycle
// immediately, then on their configured intervals until the context ends.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline is already running")
	}
	p.running = true
	p.mu.Unlock()

	p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"fetch_interval":   p.config.Scheduler.FetchInterval.String(),
		"persist_interval": p.config.Scheduler.PersistInterval.String(),
		"durable":          p.store != nil,
	}).Info("starting pipeline")

	p.wg.Add(2)
	go p.runScheduler(ctx, "fetch", p.config.Scheduler.FetchInterval, p.RunFetchCycle)
	go p.runScheduler(ctx, "persist", p.config.Scheduler.PersistInterval, p.RunPersistCycle)

	return nil
}

// Stop waits for in-flight cycles to finish. Cancellation of the context
// passed to Start does the actual interruption.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.log.WithComponent("pipeline").Info("pipeline stopped")
	return nil
}

func (p *Pipeline) runScheduler(ctx context.Context, name string, interval time.Duration, cycle func(context.Context) error) {
	defer p.wg.Done()

	if err := cycle(ctx); err != nil {
		p.logCycleError(name, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.WithComponent("pipeline").WithFields(logger.Fields{
				"cycle": name,
			}).Info("scheduler stopped")
			return
		case <-ticker.C:
			if err := cycle(ctx); err != nil {
				p.logCycleError(name, err)
			}
		}
	}
}

func (p *Pipeline) logCycleError(name string, err error) {
	// Cycle errors arrive wrapped; shutdown cancellation is not a failure.
	if errors.Is(err, context.Canceled) {
		return
	}
	atomic.AddInt64(&p.cycleErrors, 1)
	p.log.WithComponent("pipeline").WithError(err).WithFields(logger.Fields{
		"cycle": name,
	}).Error("cycle failed")
}

// RunFetchCycle pulls the top-ranked pages plus every tracked coin that fell
// out of the ranking window, and enqueues the results as batches. A fetch
// failure aborts the whole cycle; partial results are discarded so the queue
// only ever carries complete fetches.
func (p *Pipeline) RunFetchCycle(ctx context.Context) error {
	if !p.fetchRunning.CompareAndSwap(false, true) {
		p.log.WithComponent("pipeline").Warn("fetch cycle still running, skipping tick")
		return nil
	}
	defer p.fetchRunning.Store(false)

	start := time.Now()
	top, err := p.fetcher.FetchTopN(ctx, p.config.Source.Coingecko.TopPages)
	if err != nil {
		return fmt.Errorf("fetch top pages: %w", err)
	}
	p.enqueue(ctx, "coingecko_markets", top)

	tracked, err := p.trackedIDs(ctx, top)
	if err != nil {
		return err
	}
	if len(tracked) > 0 {
		extra, err := p.fetcher.FetchByIDs(ctx, tracked)
		if err != nil {
			return fmt.Errorf("fetch tracked ids: %w", err)
		}
		p.enqueue(ctx, "coingecko_tracked", extra)
	}

	atomic.AddInt64(&p.fetchCycles, 1)
	logger.LogPerformanceEntry(p.log.WithComponent("pipeline"), "pipeline", "fetch_cycle", time.Since(start), logger.Fields{
		"top_coins":     len(top),
		"tracked_coins": len(tracked),
	})
	return nil
}

// trackedIDs is the union of cache and durable-store IDs minus everything
// the ranked fetch already covered.
func (p *Pipeline) trackedIDs(ctx context.Context, fetched []models.Coin) ([]string, error) {
	covered := make(map[string]bool, len(fetched))
	for _, c := range fetched {
		covered[c.ID] = true
	}

	var ids []string
	for _, c := range p.reconciler.GetAll() {
		if !covered[c.ID] {
			covered[c.ID] = true
			ids = append(ids, c.ID)
		}
	}
	if p.store != nil {
		stored, err := p.store.ScanIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan stored ids: %w", err)
		}
		for _, id := range stored {
			if !covered[id] {
				covered[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (p *Pipeline) enqueue(ctx context.Context, source string, coins []models.Coin) {
	if len(coins) == 0 {
		return
	}
	batch := models.CoinBatch{
		BatchID:     uuid.New().String(),
		Source:      source,
		Coins:       coins,
		RecordCount: len(coins),
		FetchedAt:   time.Now().UTC(),
	}
	sent := false
	if p.config.Channels.Block {
		sent = p.channels.Send(ctx, batch)
	} else {
		sent = p.channels.TrySend(ctx, batch)
	}
	if sent {
		logger.LogDataFlowEntry(p.log.WithComponent("pipeline"), source, "batch_queue", len(coins), "coin_batch")
	}
}

// RunPersistCycle drains queued batches into the cache, then writes the full
// snapshot to the durable store.
func (p *Pipeline) RunPersistCycle(ctx context.Context) error {
	if !p.persistRunning.CompareAndSwap(false, true) {
		p.log.WithComponent("pipeline").Warn("persist cycle still running, skipping tick")
		return nil
	}
	defer p.persistRunning.Store(false)

	start := time.Now()
	drained := 0
	for {
		batch, ok := p.channels.Poll(ctx, p.config.Channels.PollTimeout)
		if !ok {
			break
		}
		p.reconciler.Update(batch.Coins)
		drained++
	}

	if p.store != nil {
		if err := p.store.Persist(ctx, p.reconciler.GetAll()); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}

	atomic.AddInt64(&p.persistCycles, 1)
	logger.LogPerformanceEntry(p.log.WithComponent("pipeline"), "pipeline", "persist_cycle", time.Since(start), logger.Fields{
		"batches_drained": drained,
		"cache_size":      p.reconciler.Size(),
	})
	return nil
}

// Stats returns cumulative cycle counters.
func (p *Pipeline) Stats() map[string]int64 {
	return map[string]int64{
		"fetch_cycles":   atomic.LoadInt64(&p.fetchCycles),
		"persist_cycles": atomic.LoadInt64(&p.persistCycles),
		"cycle_errors":   atomic.LoadInt64(&p.cycleErrors),
	}
}
