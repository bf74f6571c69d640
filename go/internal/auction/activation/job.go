// Package activation promotes scheduled auctions whose start time has passed.
package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Activator flips due auctions to active in one statement.
type Activator interface {
	ActivateScheduled(ctx context.Context, now time.Time) ([]models.Auction, error)
}

type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: 60 * time.Second}
}

// Job runs the activation sweep on an interval and on demand.
type Job struct {
	store  Activator
	clock  clockwork.Clock
	config Config

	// OnStarted is called for every auction activated by a sweep.
	OnStarted func(a models.Auction)

	sweepMu sync.Mutex

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewJob(store Activator, clock clockwork.Clock, cfg Config) *Job {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Job{store: store, clock: clock, config: cfg}
}

func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("activation job already running")
	}
	j.running = true
	j.stopChan = make(chan struct{})
	j.mu.Unlock()

	j.wg.Add(1)
	go j.run(ctx)

	log.Info().Dur("interval", j.config.Interval).Msg("activation job started")
	return nil
}

func (j *Job) Stop() error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return fmt.Errorf("activation job not running")
	}
	j.running = false
	j.mu.Unlock()

	close(j.stopChan)
	j.wg.Wait()

	log.Info().Msg("activation job stopped")
	return nil
}

func (j *Job) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := j.clock.NewTicker(j.config.Interval)
	defer ticker.Stop()

	// Sweep immediately on start
	j.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopChan:
			return
		case <-ticker.Chan():
			j.sweep(ctx)
		}
	}
}

func (j *Job) sweep(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("activation sweep failed")
	}
}

// RunOnce activates every due auction and returns them. Concurrent calls are
// serialized.
func (j *Job) RunOnce(ctx context.Context) ([]models.Auction, error) {
	j.sweepMu.Lock()
	defer j.sweepMu.Unlock()

	started, err := j.store.ActivateScheduled(ctx, j.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to activate scheduled auctions: %w", err)
	}
	if len(started) == 0 {
		return nil, nil
	}

	log.Info().Int("count", len(started)).Msg("scheduled auctions started")
	if j.OnStarted != nil {
		for _, a := range started {
			j.OnStarted(a)
		}
	}
	return started, nil
}

type triggerResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Activated int    `json:"activated"`
}

// TriggerHandler runs one sweep per POST request.
func (j *Job) TriggerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		started, err := j.RunOnce(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("triggered activation sweep failed")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(triggerResponse{Status: "error", Message: "Scheduler run failed"})
			return
		}
		_ = json.NewEncoder(w).Encode(triggerResponse{Status: "success", Message: "Scheduler triggered", Activated: len(started)})
	}
}
