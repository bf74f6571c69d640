package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/auction/activation"
	"github.com/mcdev12/bidhouse/go/internal/auction/bidding"
	"github.com/mcdev12/bidhouse/go/internal/auction/gateway"
	"github.com/mcdev12/bidhouse/go/internal/auction/lease"
	"github.com/mcdev12/bidhouse/go/internal/auction/ledger"
	"github.com/mcdev12/bidhouse/go/internal/auction/recovery"
	"github.com/mcdev12/bidhouse/go/internal/auction/settlement"
	"github.com/mcdev12/bidhouse/go/internal/auction/timer"
	"github.com/mcdev12/bidhouse/go/internal/auth"
	"github.com/mcdev12/bidhouse/go/internal/notify"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Gateway    *gateway.Service
	Scheduler  *timer.Scheduler
	Activation *activation.Job
	Recovery   *recovery.Coordinator
	Dispatcher *notify.Dispatcher

	publisher notify.Publisher
}

func setupServices(ctx context.Context, config *Config, pool *pgxpool.Pool, rdb *redis.Client) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Ledger → App layer → Gateway
	clock := clockwork.NewRealClock()
	store := ledger.NewRepository(pool)

	publisher, err := setupPublisher(ctx, config)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(publisher, notify.DefaultConfig())

	var locker lease.Locker = lease.NewLocal(clock)
	var resolvers auth.Chain
	if rdb != nil {
		locker = lease.NewRedisLocker(rdb, "bidhouse:")
		resolvers = append(resolvers, auth.NewSessionResolver(auth.NewRedisSessionStore(rdb)))
	}
	if config.JWTSecret != "" {
		resolvers = append(resolvers, auth.NewTokenResolver(config.JWTSecret))
	}
	if len(resolvers) == 0 {
		return nil, fmt.Errorf("no authentication configured: set REDIS_URL or JWT_SECRET")
	}

	bidApp := bidding.NewApp(store, dispatcher)
	settlementApp := settlement.NewApp(store, dispatcher, locker)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.BidWindow = config.Auction.ExtendFloor
	gatewayConfig.RecentBids = config.Auction.RecentBids
	gatewayService := gateway.NewService(gatewayConfig, clock, resolvers, store, bidApp, settlementApp)

	timerConfig := timer.DefaultConfig()
	timerConfig.ExtendFloor = config.Auction.ExtendFloor
	timerConfig.EndingSoonWindow = config.Auction.EndingSoonWindow
	timerConfig.Tick = config.Auction.Tick
	scheduler := timer.NewScheduler(clock, timerConfig, gatewayService.TimerHooks())
	gatewayService.SetTimers(scheduler)

	coordinator := recovery.NewCoordinator(store, scheduler, settlementApp, clock, config.Auction.ExtendFloor)
	coordinator.OnSettled = gatewayService.AuctionEnded

	job := activation.NewJob(store, clock, activation.Config{Interval: config.Auction.ActivationInterval})
	job.OnStarted = gatewayService.AuctionStarted

	return &Services{
		Gateway:    gatewayService,
		Scheduler:  scheduler,
		Activation: job,
		Recovery:   coordinator,
		Dispatcher: dispatcher,
		publisher:  publisher,
	}, nil
}

// setupPublisher uses JetStream when NATS is configured and logs otherwise.
func setupPublisher(ctx context.Context, config *Config) (notify.Publisher, error) {
	if config.NATSURL == "" {
		log.Warn().Msg("NATS_URL not set, notifications will only be logged")
		return notify.LogPublisher{}, nil
	}

	jsConfig := notify.DefaultJetStreamConfig()
	jsConfig.URL = config.NATSURL
	publisher, err := notify.NewJetStreamPublisher(ctx, jsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification publisher: %w", err)
	}
	return publisher, nil
}

// Close releases the notification transport.
func (s *Services) Close() {
	if js, ok := s.publisher.(*notify.JetStreamPublisher); ok {
		if err := js.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close notification publisher")
		}
	}
}
