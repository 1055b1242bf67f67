package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/intent-router/internal/adapter/observability"
	"github.com/fairyhunter13/intent-router/internal/domain"
	"github.com/fairyhunter13/intent-router/pkg/textx"
)

// FeedbackCollector accepts corrections without blocking the request path:
// Submit enqueues onto a bounded channel and reports a drop when full. A
// single worker invalidates cached entries for the corrected text and appends
// the record to the durable sink.
type FeedbackCollector struct {
	cache domain.ResultCache
	sink  domain.FeedbackSink // nil when no durable sink is configured

	ch      chan domain.FeedbackRecord
	dropped atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewFeedbackCollector starts the background worker. queueSize bounds the
// number of corrections buffered while the sink is slow.
func NewFeedbackCollector(cache domain.ResultCache, sink domain.FeedbackSink, queueSize int) *FeedbackCollector {
	if queueSize < 1 {
		queueSize = 1
	}
	c := &FeedbackCollector{
		cache: cache,
		sink:  sink,
		ch:    make(chan domain.FeedbackRecord, queueSize),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Submit enqueues a correction and reports whether it was accepted. A full
// queue drops the record rather than stalling the caller.
func (c *FeedbackCollector) Submit(text, correctedLabel string, original domain.ClassificationResult) bool {
	rec := domain.FeedbackRecord{
		ID:             uuid.NewString(),
		RequestHash:    textx.HashKey(text),
		Text:           textx.SanitizeText(text),
		OriginalResult: original,
		CorrectedLabel: correctedLabel,
		CreatedAt:      time.Now().UTC(),
	}
	select {
	case c.ch <- rec:
		return true
	default:
		c.dropped.Add(1)
		observability.RecordFeedback("dropped")
		slog.Warn("feedback queue full, dropping record", slog.String("id", rec.ID))
		return false
	}
}

// Dropped reports how many corrections were discarded due to a full queue.
func (c *FeedbackCollector) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops accepting feedback and drains the queue.
func (c *FeedbackCollector) Close() {
	c.closeOnce.Do(func() {
		close(c.ch)
	})
	c.wg.Wait()
}

func (c *FeedbackCollector) run() {
	defer c.wg.Done()
	for rec := range c.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		// Stale cached results for the corrected text must not be served again.
		c.cache.Invalidate(ctx, rec.Text)
		if c.sink != nil {
			if err := c.sink.Append(ctx, rec); err != nil {
				observability.RecordFeedback("sink_error")
				slog.Error("feedback sink append failed",
					slog.String("id", rec.ID), slog.Any("error", err))
				cancel()
				continue
			}
		}
		observability.RecordFeedback("accepted")
		cancel()
	}
}
