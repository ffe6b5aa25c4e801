package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/AleksK1NG/account-projections/libs/kafkax"
	otelx "github.com/AleksK1NG/account-projections/libs/otel"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/bus"
)

// Scheduler periodically claims a batch of pending outbox rows, publishes
// each to the topic named by its event type, and deletes them in the same
// transaction. Multiple instances may run concurrently: skip-locked claims
// keep their batches disjoint, so no leader election is needed. A crashed
// instance leaves its rows for whichever instance next claims them, which
// makes publication at-least-once.
type Scheduler struct {
	repo         *Repository
	publisher    bus.Publisher
	logger       *slog.Logger
	initialDelay time.Duration
	interval     time.Duration
	batchSize    int
}

type SchedulerConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	BatchSize    int
}

func NewScheduler(repo *Repository, publisher bus.Publisher, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Scheduler{
		repo:         repo,
		publisher:    publisher,
		logger:       logger,
		initialDelay: cfg.InitialDelay,
		interval:     cfg.Interval,
		batchSize:    cfg.BatchSize,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.initialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.initialDelay):
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.dispatchBatch(ctx); err != nil {
				// Nothing was deleted; the next tick retries unclaimed rows.
				s.logger.Error("outbox dispatch failed", "err", err)
			}
		}
	}
}

func (s *Scheduler) dispatchBatch(ctx context.Context) error {
	return s.repo.DeleteEventsWithLock(ctx, s.batchSize, func(rec Record) error {
		msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
		headers := []kafka.Header{
			{Key: "event_id", Value: []byte(rec.EventID)},
			{Key: "event_type", Value: []byte(rec.EventType)},
		}
		headers = kafkax.InjectTraceHeaders(msgCtx, headers)
		return s.publisher.PublishRaw(msgCtx, rec.EventType, rec.AggregateID, rec.Payload, headers)
	})
}
