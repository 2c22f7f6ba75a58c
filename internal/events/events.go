// Package events publishes domain events to a broker so other
// services (and operators' own tooling) can follow transfer progress
// and the outbound Hub call trail.
package events

import "context"

const (
	// TopicTransfers carries transfer lifecycle transitions.
	TopicTransfers = "carpeta.transfers"
	// TopicHubAudit carries the sanitized record of every Hub call.
	TopicHubAudit = "carpeta.hub-audit"
)

// Publisher delivers events to a topic. Implementations must tolerate
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
	Close()
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, any) error { return nil }

func (Noop) Close() {}
