package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/segmentio/kafka-go"

	"github.com/AleksK1NG/account-projections/libs/kafkax"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/account"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/bus"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/events"
	"github.com/AleksK1NG/account-projections/services/account-service/internal/projection"
)

const DefaultMaxRetries = 3

// Repairer re-syncs a projection after a message dead-letters.
type Repairer interface {
	Repair(ctx context.Context, aggregateID string) error
}

// Pipeline decides the fate of one inbound message: acknowledge after a
// successful apply, republish to the retry topic, or route to the DLQ.
// Process returns an error only when a transport write failed; in that case
// the message stays uncommitted and will be redelivered. Primary and retry
// topic consumers share one Pipeline, so retries chain through the same
// decisions until exhaustion.
type Pipeline struct {
	publisher     bus.Publisher
	handler       events.Handler
	repairer      Repairer
	pool          *WorkerPool
	logger        *slog.Logger
	maxRetries    int
	dlqTopic      string
	repairWorkers int
}

type PipelineConfig struct {
	MaxRetries    int
	DLQTopic      string
	RepairWorkers int
}

func NewPipeline(publisher bus.Publisher, handler events.Handler, repairer Repairer, logger *slog.Logger, cfg PipelineConfig) *Pipeline {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.DLQTopic == "" {
		cfg.DLQTopic = events.DeadLetterTopic
	}
	if cfg.RepairWorkers <= 0 {
		cfg.RepairWorkers = 2
	}
	return &Pipeline{
		publisher:     publisher,
		handler:       handler,
		repairer:      repairer,
		pool:          NewWorkerPool(cfg.RepairWorkers, 4*cfg.RepairWorkers),
		logger:        logger,
		maxRetries:    cfg.MaxRetries,
		dlqTopic:      cfg.DLQTopic,
		repairWorkers: cfg.RepairWorkers,
	}
}

// Start launches the repair workers; Shutdown drains them.
func (p *Pipeline) Start(ctx context.Context) {
	p.pool.Run(ctx, p.repairWorkers)
}

func (p *Pipeline) Shutdown() {
	p.pool.Shutdown()
}

func (p *Pipeline) Process(ctx context.Context, msg kafka.Message) error {
	env, err := events.UnmarshalEnvelope(msg.Value)
	if err != nil {
		// Bad bytes will not become good bytes on retry.
		return p.deadLetter(ctx, msg, "", err)
	}

	err = events.Dispatch(ctx, env, p.handler)
	if err == nil {
		return nil
	}

	meta := kafkax.RetryMetadataFromHeaders(msg.Headers)
	if isUnprocessable(err) || meta.Count >= p.maxRetries {
		return p.deadLetter(ctx, msg, env.AggregateID, err)
	}
	return p.retry(ctx, msg, meta, err)
}

// retry republishes the original payload unchanged to the topic's retry queue
// with an incremented counter. Once that publish succeeds the retry queue is
// the durable holder of the attempt and the original message can be
// acknowledged.
func (p *Pipeline) retry(ctx context.Context, msg kafka.Message, meta kafkax.RetryMetadata, cause error) error {
	next := kafkax.RetryMetadata{Count: meta.Count + 1}
	headers := next.Apply(msg.Headers)
	topic := events.RetryTopic(msg.Topic)

	if err := p.publisher.PublishRaw(ctx, topic, string(msg.Key), msg.Value, headers); err != nil {
		p.logger.Error("retry republish failed", "err", err, "topic", topic)
		return err
	}
	p.logger.Info("event republished for retry",
		"topic", topic, "key", string(msg.Key), "retry_count", next.Count, "cause", cause.Error())
	return nil
}

// deadLetter routes the message to the DLQ with its accumulated headers plus
// the last error, then schedules a projection repair for the aggregate so the
// skipped event does not leave the read model stale.
func (p *Pipeline) deadLetter(ctx context.Context, msg kafka.Message, aggregateID string, cause error) error {
	meta := kafkax.RetryMetadataFromHeaders(msg.Headers)
	meta.LastError = cause.Error()
	headers := meta.Apply(msg.Headers)

	if err := p.publisher.PublishRaw(ctx, p.dlqTopic, string(msg.Key), msg.Value, headers); err != nil {
		p.logger.Error("dlq publish failed", "err", err, "topic", p.dlqTopic)
		return err
	}
	p.logger.Warn("event dead-lettered",
		"source_topic", msg.Topic, "key", string(msg.Key), "retry_count", meta.Count, "cause", cause.Error())

	if aggregateID != "" {
		id := aggregateID
		accepted := p.pool.Submit(func(taskCtx context.Context) {
			if err := p.repairer.Repair(taskCtx, id); err != nil {
				p.logger.Error("projection repair failed", "err", err, "account_id", id)
			}
		})
		if !accepted {
			p.logger.Warn("projection repair dropped, queue full", "account_id", id)
		}
	}
	return nil
}

// isUnprocessable reports whether an error belongs to the terminal class:
// serialization failures, validation violations, duplicate keys, and
// stale/duplicate version skew. Everything else, including ahead-of-current
// version skew, is worth retrying.
func isUnprocessable(err error) bool {
	if errors.Is(err, events.ErrMalformedPayload) ||
		errors.Is(err, events.ErrUnknownEventType) ||
		errors.Is(err, projection.ErrLowerVersion) ||
		errors.Is(err, projection.ErrSameVersion) ||
		errors.Is(err, projection.ErrVersionConflict) ||
		errors.Is(err, account.ErrInvalidAmount) ||
		errors.Is(err, account.ErrInvalidCurrency) ||
		errors.Is(err, account.ErrInvalidStatus) ||
		errors.Is(err, account.ErrInsufficientFunds) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}
