package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/agendizo/agendizo/libs/db"
	"github.com/agendizo/agendizo/libs/kafkax"
	otelx "github.com/agendizo/agendizo/libs/otel"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

// Publisher polls unpublished outbox rows and writes them to Kafka.
type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer *kafka.Writer) error {
	return p.pool.InTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil || len(records) == 0 {
			return err
		}

		msgs := make([]kafka.Message, 0, len(records))
		ids := make([]int64, 0, len(records))
		for _, rec := range records {
			msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
			msgs = append(msgs, kafka.Message{
				Topic: rec.EventType,
				Key:   []byte(rec.AggregateID),
				Value: rec.Payload,
				Headers: kafkax.InjectTraceHeaders(msgCtx, []kafka.Header{
					{Key: kafkax.HeaderEventID, Value: []byte(rec.EventID)},
					{Key: kafkax.HeaderEventType, Value: []byte(rec.EventType)},
				}),
			})
			ids = append(ids, rec.ID)
		}
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		p.logger.Debug("outbox batch published", "count", len(msgs))
		return p.repo.MarkPublished(ctx, tx, ids)
	})
}
