package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Config struct {
	QueueSize  int
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:  1024,
		Workers:    4,
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
		Timeout:    5 * time.Second,
	}
}

// Dispatcher is a bounded in-process queue drained by a worker pool.
// Notify never blocks: when the queue is full the notification is dropped
// and logged.
type Dispatcher struct {
	publisher Publisher
	config    Config
	queue     chan Notification

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(publisher Publisher, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Dispatcher{
		publisher: publisher,
		config:    cfg,
		queue:     make(chan Notification, cfg.QueueSize),
	}
}

var _ Notifier = (*Dispatcher)(nil)

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("notification dispatcher already running")
	}
	d.running = true

	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(workerCtx, i)
	}

	log.Info().
		Int("workers", d.config.Workers).
		Int("queue_size", d.config.QueueSize).
		Msg("notification dispatcher started")
	return nil
}

// Stop cancels the workers and waits for in-flight publishes to return.
// Queued notifications that were not picked up are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	log.Info().Int("dropped", len(d.queue)).Msg("notification dispatcher stopped")
}

func (d *Dispatcher) Notify(userID int64, payload Payload, category Category) {
	n := Notification{
		ID:         uuid.New(),
		UserID:     userID,
		Category:   category,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	select {
	case d.queue <- n:
	default:
		log.Warn().
			Int64("user_id", userID).
			Str("category", string(category)).
			Msg("notification queue full, dropping notification")
	}
}

func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			if err := d.publishWithRetry(ctx, n); err != nil {
				log.Error().
					Err(err).
					Str("notification_id", n.ID.String()).
					Int64("user_id", n.UserID).
					Int("worker_id", workerID).
					Msg("failed to deliver notification")
			}
		}
	}
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, n Notification) error {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.config.RetryDelay * time.Duration(attempt)):
			}
		}

		pubCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
		err := d.publisher.Publish(pubCtx, n)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn().
			Err(err).
			Str("notification_id", n.ID.String()).
			Int("attempt", attempt+1).
			Msg("failed to publish notification, retrying")
	}

	return fmt.Errorf("failed after %d attempts: %w", d.config.MaxRetries+1, lastErr)
}
