package subscription

import (
	"github.com/rs/xid"
)

// Subscriber consumes values of one endpoint
type Subscriber struct {
	// ID is unique per subscriber and keys it in the registry
	ID string
	// Deliver receives extracted values, in order, on the connection's receive goroutine
	Deliver func(value any)
}

// NewSubscriber creates a Subscriber with a fresh ID
func NewSubscriber(deliver func(value any)) Subscriber {
	return Subscriber{
		ID:      xid.New().String(),
		Deliver: deliver,
	}
}
