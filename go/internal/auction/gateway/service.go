// Package gateway relays auction state to websocket clients and turns their
// requests into bids, timer queries and seller stops.
package gateway

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/auction/bidding"
	"github.com/mcdev12/bidhouse/go/internal/auction/settlement"
	"github.com/mcdev12/bidhouse/go/internal/auction/timer"
	"github.com/mcdev12/bidhouse/go/internal/auth"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// AuctionReader is the read side the gateway needs for snapshots.
type AuctionReader interface {
	GetAuction(ctx context.Context, auctionID int64) (*models.Auction, error)
	RecentBids(ctx context.Context, auctionID int64, limit int) ([]models.Bid, error)
	CountBidders(ctx context.Context, auctionID int64) (int, error)
}

// BidApp defines what the gateway needs from the bid pipeline
type BidApp interface {
	PlaceBid(ctx context.Context, auctionID, bidderID int64, amount decimal.Decimal) (*bidding.Result, error)
	NotifyEndingSoon(ctx context.Context, auctionID int64)
}

// SettlementApp defines what the gateway needs from the settlement engine
type SettlementApp interface {
	StopAuction(ctx context.Context, auctionID, requesterID int64) (*settlement.Result, error)
	SettleExpired(ctx context.Context, auctionID int64) (*settlement.Result, error)
}

// Timers is the countdown registry.
type Timers interface {
	Start(auctionID int64, d time.Duration) time.Time
	Extend(auctionID int64) bool
	Stop(auctionID int64)
	EndTime(auctionID int64) (time.Time, bool)
	Remaining(auctionID int64) time.Duration
}

// Config holds configuration for the auction gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	// BidWindow is the countdown started by a first bid.
	BidWindow  time.Duration
	RecentBids int
}

// DefaultConfig returns default configuration for the auction gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		BidWindow:        15 * time.Second,
		RecentBids:       10,
	}
}

// Service is the auction gateway: websocket connections, rooms and the
// handlers behind every inbound event.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler

	auctions   AuctionReader
	bids       BidApp
	settlement SettlementApp
	timers     Timers

	clock  clockwork.Clock
	config Config
	locks  *auctionLocks
}

// NewService creates a new auction gateway service. Timers are attached
// later with SetTimers because the scheduler needs the service's hooks.
func NewService(config Config, clock clockwork.Clock, resolver auth.Resolver, auctions AuctionReader, bids BidApp, settle SettlementApp) *Service {
	if config.BidWindow <= 0 {
		config.BidWindow = DefaultConfig().BidWindow
	}
	if config.RecentBids <= 0 {
		config.RecentBids = DefaultConfig().RecentBids
	}
	s := &Service{
		auctions:   auctions,
		bids:       bids,
		settlement: settle,
		clock:      clock,
		config:     config,
		locks:      newAuctionLocks(),
	}
	s.connectionManager = NewConnectionManager(config.ConnectionConfig, s)
	s.wsHandler = NewWebSocketHandler(s.connectionManager, resolver)
	return s
}

// SetTimers attaches the countdown registry.
func (s *Service) SetTimers(t Timers) {
	s.timers = t
}

// TimerHooks returns the scheduler callbacks that broadcast countdown changes
// and close expired auctions.
func (s *Service) TimerHooks() timer.Hooks {
	return timer.Hooks{
		OnUpdate:     s.onTimerUpdate,
		OnEndingSoon: s.bids.NotifyEndingSoon,
		OnExpire:     s.onTimerExpired,
	}
}

// Start runs the broadcast loop until ctx is cancelled
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting auction gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("auction gateway service stopped")
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	mux.HandleFunc("GET /api/auctions/{id}/timer", s.handleTimerHTTP)
	log.Info().Msg("auction gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// AuctionStarted announces a newly activated auction on the list feed.
func (s *Service) AuctionStarted(a models.Auction) {
	s.broadcast(ListRoom, EventAuctionStarted, AuctionStartedPayload{AuctionID: a.ID, Auction: a})
}

// AuctionEnded drops any countdown left for a settled auction and announces
// it to its room and the list feed.
func (s *Service) AuctionEnded(res *settlement.Result) {
	if s.timers != nil {
		s.timers.Stop(res.AuctionID)
	}
	payload := AuctionEndedPayload{
		AuctionID: res.AuctionID,
		OrderID:   res.OrderID,
		EndedAt:   res.EndTime.UTC(),
	}
	if res.Winner != nil {
		payload.WinnerID = &res.Winner.BidderID
		payload.FinalPrice = &res.Winner.Amount
	}
	if res.Stopped {
		payload.StoppedBy = "seller"
	}
	s.broadcast(roomName(res.AuctionID), EventAuctionEnded, payload)
	s.broadcast(ListRoom, EventAuctionEnded, payload)
}

func (s *Service) onTimerUpdate(auctionID int64, endTime time.Time, extended bool) {
	payload := TimerUpdatePayload{
		AuctionID:  auctionID,
		EndTime:    millis(endTime),
		ServerTime: millis(s.clock.Now()),
	}
	s.broadcast(roomName(auctionID), EventTimerUpdate, payload)
	if extended {
		s.broadcast(ListRoom, EventTimerUpdate, payload)
	}
}

func (s *Service) onTimerExpired(ctx context.Context, auctionID int64) {
	unlock := s.locks.lock(auctionID)
	defer unlock()

	res, err := s.settlement.SettleExpired(ctx, auctionID)
	if err != nil {
		log.Error().Err(err).Int64("auction_id", auctionID).Msg("failed to settle expired auction")
		return
	}
	if res != nil {
		s.AuctionEnded(res)
		return
	}

	// A bid may have restarted the countdown after this expiry fired. Once the
	// auction is closed that countdown must not outlive it.
	a, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		log.Warn().Err(err).Int64("auction_id", auctionID).Msg("failed to recheck expired auction")
		return
	}
	if !a.IsActive() && s.timers != nil {
		s.timers.Stop(auctionID)
	}
}

// handleTimerHTTP serves the same snapshot as get_timer for polling clients.
func (s *Service) handleTimerHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "auction_id must be a positive integer", http.StatusBadRequest)
		return
	}
	end, ok := s.timerEnd(id)
	remaining := 0
	if ok {
		remaining = int(math.Ceil(s.timers.Remaining(id).Seconds()))
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(TimerSyncPayload{
		AuctionID:     id,
		EndTime:       optMillis(end, ok),
		TimeRemaining: remaining,
		ServerTime:    millis(s.clock.Now()),
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode timer snapshot")
	}
}

func (s *Service) broadcast(room string, eventType EventType, payload interface{}) {
	ev, err := NewEvent(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	s.connectionManager.BroadcastToRoom(room, ev)
}
