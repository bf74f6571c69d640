// Package validation checks inbound realtime payloads before they reach storage.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mcdev12/bidhouse/go/internal/auction/auctionerr"
	"github.com/shopspring/decimal"
)

// Error is a rejected input. It matches auctionerr.ErrValidation.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool { return target == auctionerr.ErrValidation }

func invalid(field, msg string) error {
	return &Error{Field: field, Message: msg}
}

var validate = newValidator()

// newValidator checks decimals as float64 so the numeric tags apply to them.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	if err := v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsInf(f, 0) && !math.IsNaN(f)
	}); err != nil {
		panic(err)
	}
	return v
}

// ruleMessages maps a failed field and tag to the client message.
var ruleMessages = map[string]string{
	"auction_id":        "auction_id must be a positive integer",
	"bid_amount":        "bid_amount must be a positive number",
	"bid_amount.finite": "bid_amount must be a finite number",
}

// AuctionRequest is the payload of join_room, get_timer and stop_auction.
type AuctionRequest struct {
	AuctionID int64 `json:"auction_id" validate:"required,gt=0"`
}

// BidRequest is the payload of place_bid.
type BidRequest struct {
	AuctionID int64           `json:"auction_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"bid_amount" validate:"finite,gt=0"`
}

type rawAuction struct {
	AuctionID json.RawMessage `json:"auction_id"`
}

type rawBid struct {
	AuctionID json.RawMessage `json:"auction_id"`
	BidAmount json.RawMessage `json:"bid_amount"`
}

// ParseJoinRoom validates a join_room payload.
func ParseJoinRoom(data []byte) (AuctionRequest, error) {
	return parseAuctionRequest(data)
}

// ParseGetTimer validates a get_timer payload.
func ParseGetTimer(data []byte) (AuctionRequest, error) {
	return parseAuctionRequest(data)
}

// ParseStopAuction validates a stop_auction payload.
func ParseStopAuction(data []byte) (AuctionRequest, error) {
	return parseAuctionRequest(data)
}

// ParsePlaceBid validates a place_bid payload.
func ParsePlaceBid(data []byte) (BidRequest, error) {
	var raw rawBid
	if err := decodeObject(data, &raw); err != nil {
		return BidRequest{}, err
	}
	id, err := auctionID(raw.AuctionID)
	if err != nil {
		return BidRequest{}, err
	}
	amount, err := bidAmount(raw.BidAmount)
	if err != nil {
		return BidRequest{}, err
	}
	req := BidRequest{AuctionID: id, Amount: amount}
	if err := checkStruct(req); err != nil {
		return BidRequest{}, err
	}
	return req, nil
}

func parseAuctionRequest(data []byte) (AuctionRequest, error) {
	var raw rawAuction
	if err := decodeObject(data, &raw); err != nil {
		return AuctionRequest{}, err
	}
	id, err := auctionID(raw.AuctionID)
	if err != nil {
		return AuctionRequest{}, err
	}
	req := AuctionRequest{AuctionID: id}
	if err := checkStruct(req); err != nil {
		return AuctionRequest{}, err
	}
	return req, nil
}

func decodeObject(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return invalid("", "Invalid data format")
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return invalid("", "Invalid data format")
	}
	return nil
}

func isMissing(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isNumber(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && (trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9'))
}

// maxID bounds auction ids to int64.
var maxID = decimal.NewFromInt(math.MaxInt64)

// auctionID accepts any JSON number with an integral value, so 5.0 and 1e3
// are ids while 1.5 and strings are not. Range rules live on the struct tags.
func auctionID(raw json.RawMessage) (int64, error) {
	if isMissing(raw) {
		return 0, invalid("auction_id", "auction_id is required")
	}
	if !isNumber(raw) {
		return 0, invalid("auction_id", "auction_id must be a positive integer")
	}
	n, err := decimal.NewFromString(string(bytes.TrimSpace(raw)))
	if err != nil || !n.Equal(n.Truncate(0)) || n.GreaterThan(maxID) {
		return 0, invalid("auction_id", "auction_id must be a positive integer")
	}
	return n.IntPart(), nil
}

func bidAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if isMissing(raw) {
		return decimal.Zero, invalid("bid_amount", "bid_amount is required")
	}
	if !isNumber(raw) {
		return decimal.Zero, invalid("bid_amount", "bid_amount must be a positive number")
	}
	amount, err := decimal.NewFromString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return decimal.Zero, invalid("bid_amount", "bid_amount must be a positive number")
	}
	return amount, nil
}

func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalid("", "Invalid data format")
	}
	fe := verrs[0]
	if msg, ok := ruleMessages[fe.Field()+"."+fe.Tag()]; ok {
		return invalid(fe.Field(), msg)
	}
	if msg, ok := ruleMessages[fe.Field()]; ok {
		return invalid(fe.Field(), msg)
	}
	return invalid(fe.Field(), fe.Field()+" is invalid")
}
