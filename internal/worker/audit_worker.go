package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"labbooking/internal/database"
	"labbooking/internal/domain"
	"labbooking/internal/events"
	"labbooking/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const deadLetterKey = "audit:deadletter"

var ErrQueueFull = errors.New("audit queue is full")

// AuditWorker journals reservation events off the request path. Failed
// appends are retried with backoff; entries that exhaust their retries go
// to a Redis dead-letter list when a client is configured.
type AuditWorker struct {
	audit       domain.AuditLog
	redis       *redis.Client
	retryPolicy RetryPolicy
	queue       chan *models.AuditEntry
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewAuditWorker(audit domain.AuditLog, redisClient *redis.Client, retry RetryPolicy, queueSize int, logger *zerolog.Logger) *AuditWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 500 * time.Millisecond
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 30 * time.Second
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "audit_worker").Logger()
	}

	return &AuditWorker{
		audit:       audit,
		redis:       redisClient,
		retryPolicy: retry,
		queue:       make(chan *models.AuditEntry, queueSize),
		logger:      l,
		sleep:       sleepCtx,
	}
}

// Subscribe routes every reservation event on bus to the worker queue.
func (w *AuditWorker) Subscribe(bus *events.EventBus) {
	for _, eventType := range events.ReservationEventTypes {
		bus.Subscribe(eventType, w.Handle)
	}
}

// Handle enqueues the journal entry of event without blocking.
func (w *AuditWorker) Handle(event *events.Event) error {
	entry, err := database.EntryFromEvent(event)
	if err != nil {
		return err
	}
	select {
	case w.queue <- entry:
		return nil
	default:
		w.pushDeadLetter(context.Background(), entry)
		return ErrQueueFull
	}
}

// Start consumes the queue until ctx is done, then drains what is left.
// Entries taken from the queue are always journaled or dead-lettered.
func (w *AuditWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("audit worker started")
	defer w.logger.Info().Msg("audit worker stopped")

	for {
		if ctx.Err() != nil {
			w.drain()
			return
		}
		select {
		case <-ctx.Done():
			w.drain()
			return
		case entry := <-w.queue:
			w.process(ctx, entry)
		}
	}
}

func (w *AuditWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	drained := 0
	for {
		select {
		case entry := <-w.queue:
			w.process(ctx, entry)
			drained++
		default:
			if drained > 0 {
				w.logger.Info().Int("entries", drained).Msg("audit queue drained")
			}
			return
		}
	}
}

// process appends entry, retrying with backoff while ctx is live. The append
// itself ignores ctx cancellation so an entry dequeued during shutdown still
// reaches the journal; once ctx is done one last attempt is made before the
// entry is dead-lettered.
func (w *AuditWorker) process(ctx context.Context, entry *models.AuditEntry) {
	for attempt := 1; ; attempt++ {
		err := w.appendOnce(ctx, entry)
		if err == nil {
			return
		}

		if w.retryPolicy.Exhausted(attempt) {
			w.giveUp(err, entry)
			return
		}

		delay := w.retryPolicy.NextDelay(attempt)
		w.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("audit append failed")
		if w.sleep(ctx, delay) != nil {
			if err := w.appendOnce(ctx, entry); err != nil {
				w.giveUp(err, entry)
			}
			return
		}
	}
}

func (w *AuditWorker) appendOnce(ctx context.Context, entry *models.AuditEntry) error {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return w.audit.AppendAudit(appendCtx, entry)
}

func (w *AuditWorker) giveUp(err error, entry *models.AuditEntry) {
	w.logger.Error().Err(err).
		Str("reservation_id", entry.ReservationID).
		Str("event_type", entry.EventType).
		Msg("audit append failed, giving up")
	w.pushDeadLetter(context.Background(), entry)
}

func (w *AuditWorker) pushDeadLetter(ctx context.Context, entry *models.AuditEntry) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		w.logger.Error().Err(err).Msg("encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("reservation_id", entry.ReservationID).Msg("dead letter push failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
