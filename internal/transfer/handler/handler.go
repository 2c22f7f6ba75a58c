package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	dErrors "carpeta/pkg/domain-errors"
	"carpeta/pkg/platform/httputil"

	"carpeta/internal/transfer"
)

// Service is the slice of the transfer service the HTTP layer needs.
type Service interface {
	Initiate(ctx context.Context, req transfer.InitiateRequest) (*transfer.Record, error)
	Receive(ctx context.Context, req transfer.ReceiveRequest) (*transfer.Record, error)
	Confirm(ctx context.Context, citizenID int64, accepted bool) (*transfer.Record, error)
	Reject(ctx context.Context, id, reason string) (*transfer.Record, error)
	Get(ctx context.Context, id string) (*transfer.Record, error)
	ListByCitizen(ctx context.Context, citizenID int64) ([]*transfer.Record, error)
}

// Handler wires the transfer endpoints. The /api/transferCitizen pair
// is the inter-operator surface and sits behind B2B token auth; the
// /api/transfers routes are this operator's own management API.
type Handler struct {
	service Service
	auth    *B2BAuth
	logger  *slog.Logger
}

// New constructs a transfer handler with its dependencies.
func New(service Service, auth *B2BAuth, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		auth:    auth,
		logger:  logger,
	}
}

// Register mounts the transfer endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Post("/api/transferCitizen", h.HandleTransferCitizen)
		r.Post("/api/transferCitizenConfirm", h.HandleTransferCitizenConfirm)
	})

	r.Post("/api/transfers/initiate", h.HandleInitiate)
	r.Post("/api/transfers/{id}/reject", h.HandleReject)
	r.Get("/api/transfers/{id}", h.HandleGet)
	r.Get("/api/transfers", h.HandleList)
}

// HandleTransferCitizen handles POST /api/transferCitizen: a peer
// operator pushing a citizen's folder to us.
func (h *Handler) HandleTransferCitizen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[transfer.PeerTransferRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.ID <= 0 || req.CitizenName == "" || req.ConfirmAPI == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "id, citizenName and confirmAPI are required"))
		return
	}

	claims := ClaimsFromContext(ctx)
	record, err := h.service.Receive(ctx, transfer.ReceiveRequest{
		CitizenID:          req.ID,
		CitizenName:        req.CitizenName,
		CitizenEmail:       req.CitizenEmail,
		DocumentURLs:       req.URLDocuments,
		ConfirmAPI:         req.ConfirmAPI,
		SourceOperatorID:   claims.Issuer,
		SourceOperatorName: claims.OperatorName,
	})
	if err != nil {
		h.logger.Error("incoming transfer failed",
			"citizen_id", req.ID, "source_operator", claims.Issuer, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.Info("incoming transfer accepted",
		"transfer_id", record.ID, "citizen_id", req.ID, "source_operator", claims.Issuer)
	httputil.WriteJSON(w, http.StatusAccepted, record)
}

// HandleTransferCitizenConfirm handles POST /api/transferCitizenConfirm:
// the destination reporting the outcome of a transfer we initiated.
// req_status 1 confirms, 0 rejects.
func (h *Handler) HandleTransferCitizenConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[transfer.PeerConfirmRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.ID <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "id is required"))
		return
	}

	record, err := h.service.Confirm(ctx, req.ID, req.ReqStatus == transfer.ConfirmAccepted)
	if err != nil {
		h.logger.Error("transfer confirmation failed",
			"citizen_id", req.ID, "req_status", req.ReqStatus, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.Info("transfer confirmation applied",
		"transfer_id", record.ID, "citizen_id", req.ID, "status", record.Status)
	httputil.WriteJSON(w, http.StatusOK, record)
}

// InitiateBody is the management-API request to start an outgoing
// transfer.
type InitiateBody struct {
	CitizenID             int64               `json:"citizenId"`
	CitizenName           string              `json:"citizenName"`
	CitizenEmail          string              `json:"citizenEmail"`
	DestinationOperatorID string              `json:"destinationOperatorId"`
	URLDocuments          map[string][]string `json:"urlDocuments"`
}

// HandleInitiate handles POST /api/transfers/initiate. The
// Idempotency-Key header makes retried submissions safe; without it
// every call starts a fresh transfer.
func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := httputil.Decode[InitiateBody](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if body.CitizenID <= 0 || body.DestinationOperatorID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "citizenId and destinationOperatorId are required"))
		return
	}

	record, err := h.service.Initiate(ctx, transfer.InitiateRequest{
		IdempotencyKey:        r.Header.Get("Idempotency-Key"),
		CitizenID:             body.CitizenID,
		CitizenName:           body.CitizenName,
		CitizenEmail:          body.CitizenEmail,
		DestinationOperatorID: body.DestinationOperatorID,
		DocumentURLs:          body.URLDocuments,
	})
	if err != nil {
		h.logger.Error("transfer initiation failed",
			"citizen_id", body.CitizenID, "destination", body.DestinationOperatorID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.Info("transfer initiated",
		"transfer_id", record.ID, "citizen_id", body.CitizenID, "destination", body.DestinationOperatorID)
	httputil.WriteJSON(w, http.StatusCreated, record)
}

// RejectBody carries the operator's reason for failing a transfer.
type RejectBody struct {
	Reason string `json:"reason"`
}

// HandleReject handles POST /api/transfers/{id}/reject: an explicit
// operator action failing a non-terminal transfer. Terminal records
// are returned unchanged.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	body, err := httputil.Decode[RejectBody](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if body.Reason == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "reason is required"))
		return
	}

	record, err := h.service.Reject(ctx, id, body.Reason)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			err = dErrors.Wrap(err, dErrors.CodeNotFound, "transfer not found")
		}
		h.logger.Error("transfer rejection failed", "transfer_id", id, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.Info("transfer rejected", "transfer_id", id, "reason", body.Reason)
	httputil.WriteJSON(w, http.StatusOK, record)
}

// HandleGet handles GET /api/transfers/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			err = dErrors.Wrap(err, dErrors.CodeNotFound, "transfer not found")
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

// HandleList handles GET /api/transfers?citizenId=N.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	citizenID, err := strconv.ParseInt(r.URL.Query().Get("citizenId"), 10, 64)
	if err != nil || citizenID <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "citizenId query parameter is required"))
		return
	}

	records, err := h.service.ListByCitizen(r.Context(), citizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []*transfer.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}
