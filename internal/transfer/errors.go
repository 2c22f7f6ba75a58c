package transfer

import "errors"

var (
	// ErrNotFound means no record exists for the given id or key.
	ErrNotFound = errors.New("transfer not found")

	// ErrDuplicateKey means the idempotency key is already bound to a
	// record. Stores return it from Create; the service turns it into
	// the existing record.
	ErrDuplicateKey = errors.New("idempotency key already used")

	// ErrTransferInProgress means another transfer for the same
	// citizen and destination holds the initiation lock.
	ErrTransferInProgress = errors.New("transfer already in progress")
)
