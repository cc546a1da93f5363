// Package bus carries events and decisions between the API, the worker and
// downstream consumers.
package bus

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Bus types accepted in EventBusConfig.Type.
const (
	TypeChannel = "channel"
	TypeNATS    = "nats"
)

// DefaultBufferSize is used when a channel bus is configured without one.
const DefaultBufferSize = 1000

// New returns the bus named by cfg.Type. An empty type is the in-process
// channel bus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case TypeChannel, "":
		size := cfg.ChannelBufferSize
		if size <= 0 {
			size = DefaultBufferSize
		}
		return NewChannelBus(size), nil
	case TypeNATS:
		return NewNATSBus(cfg)
	}
	return nil, fmt.Errorf("%w: unsupported event bus type %q", domain.ErrInvalidInput, cfg.Type)
}
