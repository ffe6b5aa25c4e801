package consumer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleksK1NG/account-projections/libs/kafkax"
)

// Consumer runs the pipeline over one topic with a fixed number of workers,
// each processing one message to completion before committing its offset.
// The offset advances only after the pipeline has taken a definitive action.
type Consumer struct {
	pipeline    *Pipeline
	logger      *slog.Logger
	brokers     []string
	groupID     string
	topic       string
	concurrency int
}

type Config struct {
	Brokers     string
	GroupID     string
	Topic       string
	Concurrency int
}

func New(logger *slog.Logger, pipeline *Pipeline, cfg Config) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Consumer{
		pipeline:    pipeline,
		logger:      logger,
		brokers:     kafkax.SplitBrokers(cfg.Brokers),
		groupID:     cfg.GroupID,
		topic:       cfg.Topic,
		concurrency: cfg.Concurrency,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runWorker(ctx)
		}()
	}
	wg.Wait()
}

func (c *Consumer) runWorker(ctx context.Context) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		GroupID:  c.groupID,
		Topic:    c.topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err, "topic", c.topic)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)

		if err := c.pipeline.Process(ctxSpan, msg); err != nil {
			// Transport failure: leave the offset alone, the message will be
			// redelivered.
			c.logger.Error("pipeline transport error", "err", err, "topic", msg.Topic, "event_id", meta.EventID)
			span.RecordError(err)
			span.End()
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("offset commit failed", "err", err, "topic", msg.Topic, "event_id", meta.EventID)
			span.RecordError(err)
		}
		span.End()
	}
}
