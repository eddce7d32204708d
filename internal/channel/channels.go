package channel

import (
	"context"
	"sync"
	"time"

	"coinflow/logger"
	"coinflow/models"
)

type ChannelStats struct {
	BatchesSent    int64
	BatchesDropped int64
	BatchesPolled  int64
	EmptyPolls     int64
}

// Channels is the bounded hand-off queue between the fetch cycle (producer)
// and the persist cycle (consumer). The buffer size is the pipeline's only
// backpressure point: a full queue either blocks the producer or fails fast,
// it never grows unbounded.
type Channels struct {
	Batches chan models.CoinBatch

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(batchBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Batches: make(chan models.CoinBatch, batchBufferSize),
		log:     log,
	}

	log.WithComponent("coin_channels").WithFields(logger.Fields{
		"batch_buffer_size": batchBufferSize,
	}).Info("coin batch channel initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Batches)
	c.log.WithComponent("coin_channels").Info("coin batch channel closed")
}

func (c *Channels) incrementSent() {
	c.statsMutex.Lock()
	c.stats.BatchesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementDropped() {
	c.statsMutex.Lock()
	c.stats.BatchesDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementPolled() {
	c.statsMutex.Lock()
	c.stats.BatchesPolled++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementEmptyPolls() {
	c.statsMutex.Lock()
	c.stats.EmptyPolls++
	c.statsMutex.Unlock()
}

// Send enqueues a batch, waiting for buffer space. It returns false only when
// the context is cancelled before space becomes available.
func (c *Channels) Send(ctx context.Context, batch models.CoinBatch) bool {
	select {
	case c.Batches <- batch:
		c.incrementSent()
		logger.RecordChannelMessage("coin_batches", batch.RecordCount)
		return true
	case <-ctx.Done():
		c.incrementDropped()
		return false
	}
}

// TrySend enqueues a batch without waiting; a full buffer drops the batch.
func (c *Channels) TrySend(ctx context.Context, batch models.CoinBatch) bool {
	select {
	case c.Batches <- batch:
		c.incrementSent()
		logger.RecordChannelMessage("coin_batches", batch.RecordCount)
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementDropped()
		return false
	}
}

// Poll dequeues the next batch, giving up after timeout. An empty poll is a
// normal no-op cycle for the consumer, reported through ok=false.
func (c *Channels) Poll(ctx context.Context, timeout time.Duration) (models.CoinBatch, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case batch, open := <-c.Batches:
		if !open {
			return models.CoinBatch{}, false
		}
		c.incrementPolled()
		return batch, true
	case <-timer.C:
		c.incrementEmptyPolls()
		return models.CoinBatch{}, false
	case <-ctx.Done():
		return models.CoinBatch{}, false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting emits buffer occupancy metrics every second until the
// context is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	log := c.log.WithComponent("channel_buffers")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.LogMetric("channel_buffers", "coin_batch_buffer_length", len(c.Batches), "gauge", logger.Fields{
				"buffer":   "coin_batches",
				"capacity": cap(c.Batches),
			})
		}
	}
}
