package order

import (
	"context"
	"time"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventStatusChanged EventType = "order.status_changed"
	EventArchived      EventType = "order.archived"
)

// Event is published after an order change has been committed.
type Event struct {
	Type           EventType
	OrderID        string
	Number         string
	UserID         string
	Status         Status
	PreviousStatus Status
	ActorID        string
	Total          string
	At             time.Time
}

// Publisher delivers order events. Delivery is best effort: a failed publish
// never undoes the committed change.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
