// Package events publishes market events to NATS for downstream indexing
// and observability consumers.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/perps/pkg/perp"
)

// NATSPublisher forwards market events to per-type NATS subjects:
// perps.<marketKey>.<eventType>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger log.Logger
}

// NewNATSPublisher creates a publisher for one market.
func NewNATSPublisher(nc *nats.Conn, marketKey string, logger log.Logger) *NATSPublisher {
	return &NATSPublisher{
		nc:     nc,
		prefix: fmt.Sprintf("perps.%s", marketKey),
		logger: logger,
	}
}

// Publish implements perp.EventSink. Publish failures are logged, never
// propagated: events are observability, not control flow.
func (p *NATSPublisher) Publish(ev perp.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal event", "type", ev.Type(), "error", err)
		return
	}
	subject := p.prefix + "." + ev.Type()
	if err := p.nc.Publish(subject, payload); err != nil {
		p.logger.Error("publish event", "subject", subject, "error", err)
	}
}
