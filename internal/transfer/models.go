// Package transfer implements the cross-operator transfer protocol: a
// two-phase "request, confirm, unregister" sequence that moves a
// citizen's folder from a source operator to a destination operator.
package transfer

import "time"

// Status is the transfer lifecycle state. The happy path is
// pending → confirmed → pending_unregister → success; failed is
// reachable from any non-terminal state.
type Status string

const (
	StatusPending           Status = "pending"
	StatusConfirmed         Status = "confirmed"
	StatusPendingUnregister Status = "pending_unregister"
	StatusSuccess           Status = "success"
	StatusFailed            Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Direction distinguishes transfers we initiated from transfers pushed
// to us by a peer operator.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Record is one citizen transfer. Records are created on initiation,
// mutated only through Service transitions, and never deleted:
// terminal records stay around as the audit trail.
type Record struct {
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotencyKey"`

	CitizenID    int64  `json:"citizenId"`
	CitizenName  string `json:"citizenName"`
	CitizenEmail string `json:"citizenEmail"`

	Direction Direction `json:"direction"`

	SourceOperatorID        string `json:"sourceOperatorId"`
	SourceOperatorName      string `json:"sourceOperatorName"`
	DestinationOperatorID   string `json:"destinationOperatorId"`
	DestinationOperatorName string `json:"destinationOperatorName"`

	// ConfirmURL is where the counterpart expects the confirmation
	// callback. Only meaningful for outgoing transfers.
	ConfirmURL string `json:"confirmUrl,omitempty"`

	// DocumentURLs maps a document id to its download URLs. Immutable
	// once set; DocumentIDs preserves the original ordering.
	DocumentIDs  []string            `json:"documentIds"`
	DocumentURLs map[string][]string `json:"urlDocuments"`

	Status       Status `json:"status"`
	RetryCount   int    `json:"retryCount"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	InitiatedAt    time.Time `json:"initiatedAt"`
	ConfirmedAt    time.Time `json:"confirmedAt,omitzero"`
	UnregisteredAt time.Time `json:"unregisteredAt,omitzero"`
	CompletedAt    time.Time `json:"completedAt,omitzero"`
}

// validPredecessor reports whether a transition into next is legal
// from the record's current status.
func (r *Record) validPredecessor(next Status) bool {
	switch next {
	case StatusConfirmed:
		return r.Status == StatusPending
	case StatusPendingUnregister:
		return r.Status == StatusConfirmed
	case StatusSuccess:
		return r.Status == StatusPendingUnregister
	case StatusFailed:
		return !r.Status.Terminal()
	default:
		return false
	}
}
