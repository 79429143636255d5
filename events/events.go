// Package events fans out cart changes to live listeners.
package events

import (
	"context"
	"time"
)

type Kind string

const (
	CartUpdated   Kind = "cart_updated"
	CartCleared   Kind = "cart_cleared"
	CartFinalized Kind = "cart_finalized"
	CartReaped    Kind = "cart_reaped"
)

type Event struct {
	Kind    Kind      `json:"type"`
	OwnerID string    `json:"owner_id"`
	CartID  string    `json:"cart_id"`
	At      time.Time `json:"at"`
}

// Publisher is called after a cart change has committed. Delivery is best
// effort; a failed publish never undoes the change.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber streams one owner's events until cancel is called or ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, ownerID string) (events <-chan Event, cancel func() error, err error)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Channel is the pub/sub channel carrying one owner's events.
func Channel(ownerID string) string { return "cart:" + ownerID }
