package transfer

import "context"

// Store persists transfer records. Implementations must enforce
// idempotency-key uniqueness at the storage layer: Create returns
// ErrDuplicateKey when the key is already taken, which the service
// resolves into the existing record.
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Record, error)
	Update(ctx context.Context, record *Record) error
	ListByCitizen(ctx context.Context, citizenID int64) ([]*Record, error)
	// ListByStatus returns up to limit records in the given direction
	// and status, oldest first. Filtering by direction here matters:
	// incoming records rest at confirmed forever, so a limit applied
	// before the direction filter would eventually starve the
	// outgoing records the sweep worker needs.
	ListByStatus(ctx context.Context, status Status, direction Direction, limit int) ([]*Record, error)
}
