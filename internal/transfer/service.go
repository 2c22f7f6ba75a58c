package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	dErrors "carpeta/pkg/domain-errors"

	"carpeta/internal/events"
	"carpeta/internal/hub"
	"carpeta/internal/lock"
	"carpeta/internal/transfer/metrics"
)

// HubClient is the slice of the Hub client the state machine needs.
type HubClient interface {
	RegisterCitizen(ctx context.Context, req hub.RegisterCitizenRequest) (hub.Result, error)
	UnregisterCitizen(ctx context.Context, req hub.UnregisterCitizenRequest) (hub.Result, error)
}

// DirectoryLookup resolves a destination operator id to its transfer
// endpoint.
type DirectoryLookup interface {
	Lookup(ctx context.Context, operatorID string) (hub.Operator, error)
}

// Service drives the transfer state machine. Every transition acquires
// the per-transfer lock, re-reads the record, and applies the change
// only from a valid predecessor status, so a retry timer and an
// inbound callback can never double-apply a transition.
type Service struct {
	store     Store
	locks     lock.Manager
	hub       HubClient
	peers     *PeerClient
	directory DirectoryLookup
	events    events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	operatorID   string
	operatorName string
	// confirmURL is handed to peers so they can call back with the
	// transfer outcome.
	confirmURL string

	lockTTL              time.Duration
	maxUnregisterRetries int
	now                  func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLockTTL overrides the critical-section lock TTL.
func WithLockTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithMaxUnregisterRetries bounds how often a failing unregister is
// re-attempted before the transfer is parked in failed for manual
// review.
func WithMaxUnregisterRetries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxUnregisterRetries = n
		}
	}
}

// WithServiceMetrics wires prometheus instrumentation.
func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithServiceClock injects a time source for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(
	store Store,
	locks lock.Manager,
	hubClient HubClient,
	peers *PeerClient,
	directory DirectoryLookup,
	pub events.Publisher,
	operatorID, operatorName, confirmURL string,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		store:                store,
		locks:                locks,
		hub:                  hubClient,
		peers:                peers,
		directory:            directory,
		events:               pub,
		logger:               logger,
		operatorID:           operatorID,
		operatorName:         operatorName,
		confirmURL:           confirmURL,
		// Must outlast the slowest critical section: a full retrying
		// Hub call under the transfer lock.
		lockTTL:              3 * time.Minute,
		maxUnregisterRetries: 3,
		now:                  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitiateRequest starts an outgoing transfer: this operator pushes
// the citizen's folder to the destination.
type InitiateRequest struct {
	IdempotencyKey        string
	CitizenID             int64
	CitizenName           string
	CitizenEmail          string
	DestinationOperatorID string
	DocumentURLs          map[string][]string
}

// Initiate creates an outgoing transfer and pushes it to the
// destination operator. Repeating the call with the same idempotency
// key returns the existing record without re-running side effects.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*Record, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("%d:%s:%d", req.CitizenID, req.DestinationOperatorID, s.now().UnixNano())
	}

	if existing, err := s.store.GetByIdempotencyKey(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	lockKey := fmt.Sprintf("transfer:%d:%s", req.CitizenID, req.DestinationOperatorID)
	held, err := s.locks.Acquire(ctx, lockKey, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, dErrors.Wrap(ErrTransferInProgress, dErrors.CodeConflict, "transfer already in progress for this citizen and destination")
		}
		return nil, err
	}
	defer func() {
		if err := s.locks.Release(ctx, held); err != nil {
			s.logger.Warn("initiation lock release failed", "key", lockKey, "error", err)
		}
	}()

	// A concurrent initiation may have won the race before we held
	// the lock.
	if existing, err := s.store.GetByIdempotencyKey(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	dest, err := s.directory.Lookup(ctx, req.DestinationOperatorID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "unknown destination operator")
	}

	record := &Record{
		ID:                      uuid.NewString(),
		IdempotencyKey:          key,
		CitizenID:               req.CitizenID,
		CitizenName:             req.CitizenName,
		CitizenEmail:            req.CitizenEmail,
		Direction:               DirectionOutgoing,
		SourceOperatorID:        s.operatorID,
		SourceOperatorName:      s.operatorName,
		DestinationOperatorID:   dest.ID,
		DestinationOperatorName: dest.Name,
		DocumentIDs:             documentIDs(req.DocumentURLs),
		DocumentURLs:            req.DocumentURLs,
		Status:                  StatusPending,
		InitiatedAt:             s.now().UTC(),
	}

	if err := s.store.Create(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return s.store.GetByIdempotencyKey(ctx, key)
		}
		return nil, err
	}
	s.recordTransition(ctx, record, "initiated")

	pushErr := s.peers.SendTransfer(ctx, dest.TransferAPIURL, dest.ID, PeerTransferRequest{
		ID:           record.CitizenID,
		CitizenName:  record.CitizenName,
		CitizenEmail: record.CitizenEmail,
		URLDocuments: record.DocumentURLs,
		ConfirmAPI:   s.confirmURL,
	})
	if pushErr != nil {
		s.logger.Error("transfer push to destination failed",
			"transfer_id", record.ID, "destination", dest.ID, "error", pushErr)
		record.Status = StatusFailed
		record.ErrorMessage = fmt.Sprintf("push to destination failed: %v", pushErr)
		record.CompletedAt = s.now().UTC()
		if err := s.store.Update(ctx, record); err != nil {
			return nil, err
		}
		s.recordTransition(ctx, record, "push_failed")
		return record, dErrors.Wrap(pushErr, dErrors.CodeUnavailable, "destination operator unreachable")
	}

	s.logger.Info("transfer initiated",
		"transfer_id", record.ID,
		"citizen_id", hub.MaskPII(fmt.Sprintf("%d", record.CitizenID), 4),
		"destination", dest.ID)
	return record, nil
}

// ReceiveRequest is an incoming transfer pushed by a peer operator.
type ReceiveRequest struct {
	CitizenID          int64
	CitizenName        string
	CitizenEmail       string
	DocumentURLs       map[string][]string
	ConfirmAPI         string
	SourceOperatorID   string
	SourceOperatorName string
}

// Receive accepts an incoming transfer: it records the folder,
// registers the citizen with the Hub under this operator, and reports
// the outcome back through the peer's confirmAPI. A re-push while an
// attempt is live (or after one succeeded) replays that record; a
// re-push after a failed attempt starts a fresh one, so a transient
// Hub outage never blocks the citizen from being transferred in.
func (s *Service) Receive(ctx context.Context, req ReceiveRequest) (*Record, error) {
	lockKey := fmt.Sprintf("incoming:%d:%s", req.CitizenID, req.SourceOperatorID)
	held, err := s.locks.Acquire(ctx, lockKey, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, dErrors.Wrap(ErrTransferInProgress, dErrors.CodeConflict, "incoming transfer already being processed for this citizen")
		}
		return nil, err
	}
	defer func() {
		if err := s.locks.Release(ctx, held); err != nil {
			s.logger.Warn("receive lock release failed", "key", lockKey, "error", err)
		}
	}()

	if existing, err := s.latestIncoming(ctx, req.CitizenID, req.ConfirmAPI); err == nil {
		if existing.Status != StatusFailed {
			return existing, nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	record := &Record{
		ID:                      uuid.NewString(),
		IdempotencyKey:          fmt.Sprintf("incoming:%d:%s:%d", req.CitizenID, req.ConfirmAPI, s.now().UnixNano()),
		CitizenID:               req.CitizenID,
		CitizenName:             req.CitizenName,
		CitizenEmail:            req.CitizenEmail,
		Direction:               DirectionIncoming,
		SourceOperatorID:        req.SourceOperatorID,
		SourceOperatorName:      req.SourceOperatorName,
		DestinationOperatorID:   s.operatorID,
		DestinationOperatorName: s.operatorName,
		ConfirmURL:              req.ConfirmAPI,
		DocumentIDs:             documentIDs(req.DocumentURLs),
		DocumentURLs:            req.DocumentURLs,
		Status:                  StatusPending,
		InitiatedAt:             s.now().UTC(),
	}
	if err := s.store.Create(ctx, record); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, record, "received")

	result, err := s.hub.RegisterCitizen(ctx, hub.RegisterCitizenRequest{
		ID:           req.CitizenID,
		Name:         req.CitizenName,
		Address:      "n/a",
		Email:        req.CitizenEmail,
		OperatorID:   s.operatorID,
		OperatorName: s.operatorName,
	})
	if err != nil && !hub.IsBusiness(err) {
		// Transient Hub trouble: reject so the source can retry the
		// whole transfer later.
		s.notifyPeer(ctx, record, ConfirmRejected)
		return s.failLocked(ctx, record.ID, fmt.Sprintf("hub registration failed: %v", err))
	}
	if err != nil {
		// The Hub refused for a domain reason, e.g. the citizen is
		// still registered with the source operator. The source must
		// unregister first; reject the push.
		s.notifyPeer(ctx, record, ConfirmRejected)
		return s.failLocked(ctx, record.ID, fmt.Sprintf("hub rejected registration: %v", err))
	}

	s.logger.Info("incoming transfer registered with hub",
		"transfer_id", record.ID, "status", result.StatusCode)
	s.notifyPeer(ctx, record, ConfirmAccepted)

	return s.transition(ctx, record.ID, StatusConfirmed, func(r *Record) {
		r.ConfirmedAt = s.now().UTC()
	})
}

// Confirm handles the destination's confirmation callback for an
// outgoing transfer. accepted=false fails the transfer. Confirming a
// record not in pending is a no-op returning the current state, which
// makes retried callbacks harmless.
func (s *Service) Confirm(ctx context.Context, citizenID int64, accepted bool) (*Record, error) {
	record, err := s.activeOutgoing(ctx, citizenID)
	if err != nil {
		return nil, err
	}

	if !accepted {
		return s.failLocked(ctx, record.ID, "destination operator rejected the transfer")
	}
	return s.transition(ctx, record.ID, StatusConfirmed, func(r *Record) {
		r.ConfirmedAt = s.now().UTC()
	})
}

// AdvanceUnregister moves a confirmed outgoing transfer through the
// unregister step: confirmed → pending_unregister → success. Transient
// Hub failures leave the record in pending_unregister with retryCount
// incremented; exhausting the retry budget parks it in failed with an
// errorMessage for manual operator intervention.
func (s *Service) AdvanceUnregister(ctx context.Context, id string) (*Record, error) {
	held, err := s.lockTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.releaseTransfer(ctx, held)

	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch record.Status {
	case StatusConfirmed:
		record.Status = StatusPendingUnregister
		if err := s.store.Update(ctx, record); err != nil {
			return nil, err
		}
		s.recordTransition(ctx, record, "unregister_started")
	case StatusPendingUnregister:
		// Retrying a previous failure.
	default:
		return record, nil
	}

	result, hubErr := s.hub.UnregisterCitizen(ctx, hub.UnregisterCitizenRequest{
		ID:           record.CitizenID,
		OperatorID:   s.operatorID,
		OperatorName: s.operatorName,
	})
	switch {
	case hubErr == nil:
		now := s.now().UTC()
		record.Status = StatusSuccess
		record.UnregisteredAt = now
		record.CompletedAt = now
		s.logger.Info("transfer completed",
			"transfer_id", record.ID, "hub_status", result.StatusCode)
	case hub.IsBusiness(hubErr):
		record.Status = StatusFailed
		record.ErrorMessage = fmt.Sprintf("hub refused unregister: %v", hubErr)
		record.CompletedAt = s.now().UTC()
		s.logger.Error("transfer failed on unregister",
			"transfer_id", record.ID, "error", hubErr)
	default:
		record.RetryCount++
		if record.RetryCount >= s.maxUnregisterRetries {
			record.Status = StatusFailed
			record.ErrorMessage = fmt.Sprintf(
				"unregister failed after %d attempts, manual reconciliation required: %v",
				record.RetryCount, hubErr)
			record.CompletedAt = s.now().UTC()
			s.logger.Error("transfer parked for manual intervention",
				"transfer_id", record.ID, "retries", record.RetryCount, "error", hubErr)
		} else {
			s.logger.Warn("unregister attempt failed, will retry",
				"transfer_id", record.ID, "retries", record.RetryCount, "error", hubErr)
		}
	}

	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, record, "unregister_attempted")
	return record, nil
}

// Reject moves any non-terminal transfer to failed with the supplied
// reason. Terminal records are returned unchanged.
func (s *Service) Reject(ctx context.Context, id, reason string) (*Record, error) {
	return s.failLocked(ctx, id, reason)
}

// Get returns one transfer.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// ListByCitizen returns every transfer touching a citizen, oldest
// first.
func (s *Service) ListByCitizen(ctx context.Context, citizenID int64) ([]*Record, error) {
	return s.store.ListByCitizen(ctx, citizenID)
}

// transition applies mutate under the per-transfer lock, but only if
// the record's current status is a valid predecessor of next.
// Otherwise the current record is returned unchanged.
func (s *Service) transition(ctx context.Context, id string, next Status, mutate func(*Record)) (*Record, error) {
	held, err := s.lockTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.releaseTransfer(ctx, held)

	record, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.validPredecessor(next) {
		s.logger.Info("transition skipped",
			"transfer_id", id, "from", record.Status, "to", next)
		return record, nil
	}

	record.Status = next
	mutate(record)
	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, record, string(next))
	return record, nil
}

func (s *Service) failLocked(ctx context.Context, id, reason string) (*Record, error) {
	return s.transition(ctx, id, StatusFailed, func(r *Record) {
		r.ErrorMessage = reason
		r.CompletedAt = s.now().UTC()
	})
}

func (s *Service) lockTransfer(ctx context.Context, id string) (*lock.Lock, error) {
	held, err := s.locks.Acquire(ctx, "transfer:"+id, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "transfer is being modified by another request")
		}
		return nil, err
	}
	return held, nil
}

func (s *Service) releaseTransfer(ctx context.Context, held *lock.Lock) {
	if err := s.locks.Release(ctx, held); err != nil {
		s.logger.Warn("transfer lock release failed", "key", held.Key, "error", err)
	}
}

// activeOutgoing finds the citizen's most recent non-terminal outgoing
// transfer. Confirmation callbacks identify transfers by citizen id,
// not by our record id.
func (s *Service) activeOutgoing(ctx context.Context, citizenID int64) (*Record, error) {
	records, err := s.store.ListByCitizen(ctx, citizenID)
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.Direction == DirectionOutgoing && !r.Status.Terminal() {
			return r, nil
		}
	}
	return nil, dErrors.Wrap(ErrNotFound, dErrors.CodeNotFound, "no active transfer for citizen")
}

// latestIncoming finds the most recent incoming record for a citizen
// from the peer behind confirmAPI. Receive uses it to decide between
// replaying an attempt and starting a fresh one.
func (s *Service) latestIncoming(ctx context.Context, citizenID int64, confirmAPI string) (*Record, error) {
	records, err := s.store.ListByCitizen(ctx, citizenID)
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.Direction == DirectionIncoming && r.ConfirmURL == confirmAPI {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Service) notifyPeer(ctx context.Context, record *Record, status int) {
	if record.ConfirmURL == "" {
		return
	}
	if err := s.peers.Confirm(ctx, record.ConfirmURL, record.SourceOperatorID, record.CitizenID, status); err != nil {
		s.logger.Error("confirmation callback failed",
			"transfer_id", record.ID, "confirm_url", record.ConfirmURL, "error", err)
	}
}

func (s *Service) recordTransition(ctx context.Context, record *Record, event string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(string(record.Status))
	}
	payload := map[string]any{
		"event":      event,
		"transferId": record.ID,
		"status":     record.Status,
		"direction":  record.Direction,
		"retryCount": record.RetryCount,
		"timestamp":  s.now().UTC(),
	}
	if err := s.events.Publish(ctx, events.TopicTransfers, record.ID, payload); err != nil {
		s.logger.Warn("transfer event publish failed",
			"transfer_id", record.ID, "error", err)
	}
}

func documentIDs(urls map[string][]string) []string {
	ids := make([]string, 0, len(urls))
	for id := range urls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
