package audit

import (
	"context"
	"time"

	"carpeta/internal/events"
)

// Publisher captures the Hub call trail. Calls are appended to the
// store and published to the broker; the broker path is best-effort so
// a broker outage never blocks a Hub call.
type Publisher struct {
	store  Store
	events events.Publisher
}

func NewPublisher(store Store, pub events.Publisher) *Publisher {
	return &Publisher{store: store, events: pub}
}

func (p *Publisher) Record(ctx context.Context, call HubCall) error {
	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now().UTC()
	}
	if err := p.store.Append(ctx, call); err != nil {
		return err
	}
	_ = p.events.Publish(ctx, events.TopicHubAudit, call.Operation, call)
	return nil
}
