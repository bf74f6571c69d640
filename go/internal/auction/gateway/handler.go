package gateway

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mcdev12/bidhouse/go/internal/auction/auctionerr"
	"github.com/mcdev12/bidhouse/go/internal/auction/validation"
	"github.com/mcdev12/bidhouse/go/internal/auth"
	"github.com/rs/zerolog/log"
)

func roomName(auctionID int64) string {
	return fmt.Sprintf("auction_%d", auctionID)
}

// HandleMessage dispatches one inbound client event.
func (s *Service) HandleMessage(ctx context.Context, c *Connection, msg InboundMessage) {
	switch msg.Type {
	case EventJoinRoom:
		s.handleJoinRoom(ctx, c, msg)
	case EventJoinAuctionList:
		s.connectionManager.Join(c, ListRoom)
	case EventLeaveAuctionList:
		s.connectionManager.Leave(c, ListRoom)
	case EventPlaceBid:
		s.handlePlaceBid(ctx, c, msg)
	case EventGetTimer:
		s.handleGetTimer(c, msg)
	case EventStopAuction:
		s.handleStopAuction(ctx, c, msg)
	default:
		log.Debug().Str("event", string(msg.Type)).Str("connection_id", c.ID).Msg("ignoring unknown event")
		s.reply(c, EventError, ErrorPayload{Message: fmt.Sprintf("Unknown event %q", msg.Type), Kind: "ValidationError"})
	}
}

func (s *Service) handleJoinRoom(ctx context.Context, c *Connection, msg InboundMessage) {
	req, err := validation.ParseJoinRoom(msg.Data)
	if err != nil {
		s.replyError(c, EventError, err, "Failed to join auction room")
		return
	}

	unlock := s.locks.lock(req.AuctionID)
	defer unlock()

	auction, err := s.auctions.GetAuction(ctx, req.AuctionID)
	if err != nil {
		s.replyError(c, EventError, err, "Failed to join auction room")
		return
	}

	bids, err := s.auctions.RecentBids(ctx, req.AuctionID, s.config.RecentBids)
	if err != nil {
		s.replyError(c, EventError, err, "Failed to join auction room")
		return
	}
	bidders, err := s.auctions.CountBidders(ctx, req.AuctionID)
	if err != nil {
		s.replyError(c, EventError, err, "Failed to join auction room")
		return
	}

	room := roomName(req.AuctionID)
	s.connectionManager.Join(c, room)

	end, ok := s.timerEnd(req.AuctionID)
	s.reply(c, EventAuctionState, AuctionStatePayload{
		Auction:      auction,
		Bids:         bids,
		TotalBidders: bidders,
		EndTime:      optMillis(end, ok),
		ServerTime:   millis(s.clock.Now()),
	})

	if ev, err := NewEvent(EventUserJoined, UserJoinedPayload{UserID: c.Principal.UserID, AuctionID: req.AuctionID}); err == nil {
		s.connectionManager.BroadcastToRoomExcept(room, c, ev)
	}

	log.Info().Int64("user_id", c.Principal.UserID).Str("room", room).Msg("User joined auction room")
}

func (s *Service) handlePlaceBid(ctx context.Context, c *Connection, msg InboundMessage) {
	req, err := validation.ParsePlaceBid(msg.Data)
	if err != nil {
		s.replyError(c, EventBidError, err, "Failed to place bid")
		return
	}

	unlock := s.locks.lock(req.AuctionID)
	defer unlock()

	res, err := s.bids.PlaceBid(ctx, req.AuctionID, c.Principal.UserID, req.Amount)
	if err != nil {
		if !auctionerr.IsBusiness(err) {
			log.Error().Err(err).Int64("auction_id", req.AuctionID).Int64("user_id", c.Principal.UserID).Msg("place_bid failed")
		}
		s.replyError(c, EventBidError, err, "Failed to place bid")
		return
	}

	if s.timers != nil {
		if res.FirstBid || !s.timers.Extend(req.AuctionID) {
			s.timers.Start(req.AuctionID, s.config.BidWindow)
		}
	}

	bid := res.Bid
	s.reply(c, EventBidPlaced, BidPlacedPayload{
		Success:   true,
		BidID:     bid.ID,
		AuctionID: bid.AuctionID,
		BidderID:  bid.BidderID,
		BidAmount: bid.Amount,
		BidTime:   bid.BidTime,
	})
	s.broadcast(roomName(req.AuctionID), EventNewBid, NewBidPayload{
		BidID:        bid.ID,
		AuctionID:    bid.AuctionID,
		BidderID:     bid.BidderID,
		BidAmount:    bid.Amount,
		BidTime:      bid.BidTime,
		CurrentPrice: bid.Amount,
		TotalBidders: res.BidderCount,
	})
	s.broadcast(ListRoom, EventAuctionListUpdate, AuctionListUpdatePayload{
		AuctionID:    bid.AuctionID,
		CurrentPrice: bid.Amount,
		TotalBidders: res.BidderCount,
	})
}

func (s *Service) handleGetTimer(c *Connection, msg InboundMessage) {
	req, err := validation.ParseGetTimer(msg.Data)
	if err != nil {
		s.replyError(c, EventError, err, "Failed to get timer")
		return
	}

	end, ok := s.timerEnd(req.AuctionID)
	remaining := 0
	if ok {
		remaining = int(math.Ceil(s.timers.Remaining(req.AuctionID).Seconds()))
	}
	s.reply(c, EventTimerSync, TimerSyncPayload{
		AuctionID:     req.AuctionID,
		EndTime:       optMillis(end, ok),
		TimeRemaining: remaining,
		ServerTime:    millis(s.clock.Now()),
	})
}

func (s *Service) handleStopAuction(ctx context.Context, c *Connection, msg InboundMessage) {
	req, err := validation.ParseStopAuction(msg.Data)
	if err != nil {
		s.replyError(c, EventError, err, "Failed to stop auction")
		return
	}
	if c.Principal.Role != auth.RoleSeller {
		s.replyError(c, EventError, auctionerr.New(auctionerr.ErrForbidden, "Only sellers can stop auctions"), "Failed to stop auction")
		return
	}

	unlock := s.locks.lock(req.AuctionID)
	defer unlock()

	res, err := s.settlement.StopAuction(ctx, req.AuctionID, c.Principal.UserID)
	if err != nil {
		if !auctionerr.IsBusiness(err) {
			log.Error().Err(err).Int64("auction_id", req.AuctionID).Msg("stop_auction failed")
		}
		s.replyError(c, EventError, err, "Failed to stop auction")
		return
	}
	s.AuctionEnded(res)
	s.reply(c, EventAuctionStopped, AuctionStoppedPayload{Success: true, AuctionID: req.AuctionID})
}

func (s *Service) timerEnd(auctionID int64) (t time.Time, ok bool) {
	if s.timers == nil {
		return t, false
	}
	return s.timers.EndTime(auctionID)
}

func (s *Service) reply(c *Connection, eventType EventType, payload interface{}) {
	ev, err := NewEvent(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	s.connectionManager.SendTo(c, ev)
}

func (s *Service) replyError(c *Connection, eventType EventType, err error, fallback string) {
	s.reply(c, eventType, ErrorPayload{Message: auctionerr.Message(err, fallback), Kind: auctionerr.Kind(err)})
}
