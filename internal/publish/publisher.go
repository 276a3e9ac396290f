package publish

import (
	"context"
	"errors"

	"github.com/whalewatch/engine/internal/store"
)

var errPublisherPanic = errors.New("publisher panicked")

// Publisher delivers one alert to an external channel.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, alert store.Alert) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc struct {
	ID string
	Fn func(ctx context.Context, alert store.Alert) error
}

func (p PublisherFunc) Name() string { return p.ID }

func (p PublisherFunc) Publish(ctx context.Context, alert store.Alert) error {
	return p.Fn(ctx, alert)
}
