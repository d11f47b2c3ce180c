package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kbstack/kbsearch/internal/core/domain"
	"github.com/kbstack/kbsearch/internal/infrastructure/resilience"
)

const (
	streamName   = "KB_INGEST"
	subjectName  = "kb.ingest.jobs"
	durableName  = "kb-ingest-workers"
	consumerName = "workers"
)

// Queue carries ingestion jobs over a JetStream work queue. Delivery is
// at-least-once: unacked jobs reappear after the ack wait, permanent
// failures are terminated so they stop burning redeliveries.
type Queue struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	executor *resilience.Executor
	logger   *slog.Logger

	ackWait    time.Duration
	maxDeliver int
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool

	// AckWait is the visibility timeout: how long a delivered job may run
	// before it is considered lost and redelivered.
	AckWait    time.Duration
	MaxDeliver int

	ResilienceExecutor *resilience.Executor
}

func New(url string, logger *slog.Logger) (*Queue, error) {
	return NewWithOptions(url, logger, Options{})
}

func NewWithOptions(url string, logger *slog.Logger, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	ackWait := options.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Minute
	}
	maxDeliver := options.MaxDeliver
	if maxDeliver <= 0 {
		maxDeliver = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("kbsearch"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	q := &Queue{
		conn:       conn,
		js:         js,
		executor:   options.ResilienceExecutor,
		logger:     logger,
		ackWait:    ackWait,
		maxDeliver: maxDeliver,
	}
	if err := q.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureStream() error {
	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectName},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishIngestionJob(ctx context.Context, job domain.IngestionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	call := func(ctx context.Context) error {
		if _, err := q.js.Publish(subjectName, payload, nats.Context(ctx)); err != nil {
			return fmt.Errorf("jetstream publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// ConsumeIngestionJobs blocks until the context ends. Handler outcome
// decides the message fate: nil acks, a permanent error terminates
// redelivery, anything else naks for a later retry.
func (q *Queue) ConsumeIngestionJobs(ctx context.Context, handler func(context.Context, domain.IngestionJob) error) error {
	sub, err := q.js.QueueSubscribe(subjectName, consumerName, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		q.handleMessage(ctx, msg, handler)
	},
		nats.Durable(durableName),
		nats.ManualAck(),
		nats.AckWait(q.ackWait),
		nats.MaxDeliver(q.maxDeliver),
	)
	if err != nil {
		return fmt.Errorf("jetstream subscribe: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) handleMessage(ctx context.Context, msg *nats.Msg, handler func(context.Context, domain.IngestionJob) error) {
	var job domain.IngestionJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		q.logger.Error("undecodable job envelope, terminating", slog.String("error", err.Error()))
		_ = msg.Term()
		return
	}

	err := handler(ctx, job)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			q.logger.Warn("job ack failed", slog.String("error", ackErr.Error()))
		}
		return
	}

	if domain.IsPermanent(err) || domain.IsKind(err, domain.ErrInvalidInput) {
		q.logger.Error("job failed permanently, terminating",
			slog.String("mode", string(job.Mode)),
			slog.String("error", err.Error()))
		_ = msg.Term()
		return
	}

	if meta, metaErr := msg.Metadata(); metaErr == nil && int(meta.NumDelivered) >= q.maxDeliver {
		q.logger.Error("job redelivery budget exhausted",
			slog.String("mode", string(job.Mode)),
			slog.Uint64("deliveries", meta.NumDelivered),
			slog.String("error", domain.WrapError(domain.ErrDeliveryExhausted, "consume job", err).Error()))
		_ = msg.Term()
		return
	}

	q.logger.Warn("job failed, requeueing",
		slog.String("mode", string(job.Mode)),
		slog.String("error", err.Error()))
	_ = msg.Nak()
}
