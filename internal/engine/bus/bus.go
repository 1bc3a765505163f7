// Package bus implements the Update Bus (spec.md §4.9): a bounded,
// multi-producer single-consumer-loop channel from Device Session into the
// Subscription Manager. It must never apply backpressure to its
// producers — Device Session is also the only writer to the transport and
// must not be blocked by a slow fan-out consumer.
package bus

import (
	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/engine/session"
)

// Bus is a bounded channel of session.UpdateEvent with drop-on-full
// semantics on the producer side.
type Bus struct {
	events chan session.UpdateEvent
	log    zerolog.Logger
}

// New builds a Bus with the given capacity. A capacity of a few hundred
// comfortably absorbs a streaming device's sample rate against a
// momentarily busy consumer loop.
func New(capacity int, log zerolog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{events: make(chan session.UpdateEvent, capacity), log: log}
}

// Publish implements session.Publisher: it is the capability injected into
// a Device Session at construction. It never blocks; when the bus is full
// the oldest queued event is dropped to make room, per spec.md §5
// Backpressure policy.
func (b *Bus) Publish(e session.UpdateEvent) {
	select {
	case b.events <- e:
		return
	default:
	}

	// Full: drop the oldest queued event, then retry once.
	select {
	case <-b.events:
		b.log.Warn().Msg("update bus full, dropping oldest queued event")
	default:
	}
	select {
	case b.events <- e:
	default:
		b.log.Warn().Msg("update bus still full after drop, dropping incoming event")
	}
}

// Events returns the receive side of the bus. There is exactly one
// consumer: the Subscription Manager's fan-out loop.
func (b *Bus) Events() <-chan session.UpdateEvent {
	return b.events
}
