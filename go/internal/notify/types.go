// Package notify delivers best-effort user notifications off the critical path.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Category groups notifications so users can opt out per kind.
type Category string

const (
	CategoryAuction Category = "auction"
	CategoryOrder   Category = "order"
)

// Payload is what the client renders.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Notification is one enqueued delivery.
type Notification struct {
	ID         uuid.UUID `json:"id"`
	UserID     int64     `json:"user_id"`
	Category   Category  `json:"category"`
	Payload    Payload   `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Notifier enqueues a notification without blocking or failing the caller.
type Notifier interface {
	Notify(userID int64, payload Payload, category Category)
}

// Publisher hands a notification to the delivery transport.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(userID int64, payload Payload, category Category)

func (f NotifierFunc) Notify(userID int64, payload Payload, category Category) {
	f(userID, payload, category)
}

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(int64, Payload, Category) {})
