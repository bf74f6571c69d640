package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/shopspring/decimal"
)

// EventType names an inbound or outbound realtime event.
type EventType string

// Inbound events
const (
	EventJoinRoom         EventType = "join_room"
	EventJoinAuctionList  EventType = "join_auction_list"
	EventLeaveAuctionList EventType = "leave_auction_list"
	EventPlaceBid         EventType = "place_bid"
	EventGetTimer         EventType = "get_timer"
	EventStopAuction      EventType = "stop_auction"
)

// Outbound events
const (
	EventAuthenticated     EventType = "authenticated"
	EventAuctionState      EventType = "auction_state"
	EventUserJoined        EventType = "user_joined"
	EventBidPlaced         EventType = "bid_placed"
	EventNewBid            EventType = "new_bid"
	EventAuctionListUpdate EventType = "auction_list_update"
	EventTimerUpdate       EventType = "timer_update"
	EventTimerSync         EventType = "timer_sync"
	EventAuctionStarted    EventType = "auction_started"
	EventAuctionEnded      EventType = "auction_ended"
	EventAuctionStopped    EventType = "auction_stopped"
	EventBidError          EventType = "bid_error"
	EventError             EventType = "error"
)

// ListRoom is the cross-auction feed used by list pages.
const ListRoom = "auction_list_view"

// Event is the outbound envelope.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// InboundMessage is what clients send.
type InboundMessage struct {
	Type EventType       `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent wraps payload in an envelope.
func NewEvent(eventType EventType, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// millis renders a time as epoch milliseconds, the unit clients count down in.
func millis(t time.Time) int64 { return t.UnixMilli() }

func optMillis(t time.Time, ok bool) *int64 {
	if !ok {
		return nil
	}
	ms := millis(t)
	return &ms
}

type AuthenticatedPayload struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

type AuctionStatePayload struct {
	Auction      *models.Auction `json:"auction"`
	Bids         []models.Bid    `json:"bids"`
	TotalBidders int             `json:"total_bidders"`
	EndTime      *int64          `json:"end_time"`
	ServerTime   int64           `json:"server_time"`
}

type UserJoinedPayload struct {
	UserID    int64 `json:"user_id"`
	AuctionID int64 `json:"auction_id"`
}

type BidPlacedPayload struct {
	Success   bool            `json:"success"`
	BidID     int64           `json:"bid_id"`
	AuctionID int64           `json:"auction_id"`
	BidderID  int64           `json:"bidder_id"`
	BidAmount decimal.Decimal `json:"bid_amount"`
	BidTime   time.Time       `json:"bid_time"`
}

type NewBidPayload struct {
	BidID        int64           `json:"bid_id"`
	AuctionID    int64           `json:"auction_id"`
	BidderID     int64           `json:"bidder_id"`
	BidAmount    decimal.Decimal `json:"bid_amount"`
	BidTime      time.Time       `json:"bid_time"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	TotalBidders int             `json:"total_bidders"`
}

type AuctionListUpdatePayload struct {
	AuctionID    int64           `json:"auction_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	TotalBidders int             `json:"total_bidders"`
}

type TimerUpdatePayload struct {
	AuctionID  int64 `json:"auction_id"`
	EndTime    int64 `json:"end_time"`
	ServerTime int64 `json:"server_time"`
}

type TimerSyncPayload struct {
	AuctionID     int64  `json:"auction_id"`
	EndTime       *int64 `json:"end_time"`
	TimeRemaining int    `json:"time_remaining"`
	ServerTime    int64  `json:"server_time"`
}

type AuctionStartedPayload struct {
	AuctionID int64          `json:"auction_id"`
	Auction   models.Auction `json:"auction"`
}

type AuctionEndedPayload struct {
	AuctionID  int64            `json:"auction_id"`
	WinnerID   *int64           `json:"winner_id"`
	FinalPrice *decimal.Decimal `json:"final_price"`
	OrderID    *int64           `json:"order_id"`
	StoppedBy  string           `json:"stopped_by,omitempty"`
	EndedAt    time.Time        `json:"ended_at"`
}

type AuctionStoppedPayload struct {
	Success   bool  `json:"success"`
	AuctionID int64 `json:"auction_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}
