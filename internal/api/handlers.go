/**
 * @description
 * This file contains the HTTP handlers for the finance-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application engines, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For engine logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tunewave/finance-service/internal/app"
	"github.com/tunewave/finance-service/internal/domain"
	"github.com/tunewave/finance-service/internal/store"
)

// FinanceHandlers holds the application engines that handlers call into.
type FinanceHandlers struct {
	lifecycle          *app.PaymentLifecycle
	ledger             *app.RevenueLedger
	governor           *app.PayoutGovernor
	disburser          *app.DisbursementSubmitter
	repo               store.Repository
	rateLimiter        *app.RedisPayoutRateLimiter
	payoutLimitPerHour int
	auditPageSize      int
}

// NewFinanceHandlers creates a new instance of FinanceHandlers.
func NewFinanceHandlers(lifecycle *app.PaymentLifecycle, ledger *app.RevenueLedger, governor *app.PayoutGovernor, disburser *app.DisbursementSubmitter, repo store.Repository, rateLimiter *app.RedisPayoutRateLimiter, payoutLimitPerHour, auditPageSize int) *FinanceHandlers {
	if payoutLimitPerHour <= 0 {
		payoutLimitPerHour = 10
	}
	if auditPageSize <= 0 {
		auditPageSize = 50
	}
	return &FinanceHandlers{
		lifecycle:          lifecycle,
		ledger:             ledger,
		governor:           governor,
		disburser:          disburser,
		repo:               repo,
		rateLimiter:        rateLimiter,
		payoutLimitPerHour: payoutLimitPerHour,
		auditPageSize:      auditPageSize,
	}
}

// CreatePaymentHandler handles requests to record a new incoming payment.
func (h *FinanceHandlers) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PayerID     uuid.UUID              `json:"payer_id"`
		Amount      int64                  `json:"amount"`
		Currency    string                 `json:"currency"`
		Method      string                 `json:"method"`
		Provider    *string                `json:"provider,omitempty"`
		Reference   string                 `json:"reference,omitempty"`
		PayableType *string                `json:"payable_type,omitempty"`
		PayableID   *uuid.UUID             `json:"payable_id,omitempty"`
		Description string                 `json:"description,omitempty"`
		Metadata    map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_payment outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	payment, err := h.lifecycle.Create(r.Context(), ActorFromRequest(r), app.CreatePaymentInput{
		PayerID:     req.PayerID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		Provider:    req.Provider,
		Reference:   req.Reference,
		PayableType: req.PayableType,
		PayableID:   req.PayableID,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writePaymentError(w, "create_payment", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, payment)
}

// GetPaymentHandler fetches a single payment by UUID.
func (h *FinanceHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	payment, err := h.repo.FindPaymentByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			h.writeError(w, http.StatusNotFound, "Payment not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_payment outcome=failed payment_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// TransitionPaymentHandler moves a payment through its status graph.
func (h *FinanceHandlers) TransitionPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		Status   string                 `json:"status"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	target := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if target == "" {
		h.writeError(w, http.StatusBadRequest, "Status is required")
		return
	}

	payment, err := h.lifecycle.Transition(r.Context(), ActorFromRequest(r), id, target, req.Metadata)
	if err != nil {
		h.writePaymentError(w, "transition_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// RefundPaymentHandler issues a full or partial refund against a completed payment.
func (h *FinanceHandlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount *int64 `json:"amount,omitempty"` // absent means full refund
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payment, err := h.lifecycle.Refund(r.Context(), ActorFromRequest(r), id, req.Amount, req.Reason)
	if err != nil {
		h.writePaymentError(w, "refund_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// RecordRevenueHandler handles internal requests to record recognized artist
// revenue. This is called by the catalog and streaming services.
func (h *FinanceHandlers) RecordRevenueHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ArtistID        uuid.UUID             `json:"artist_id"`
		RevenueType     string                `json:"revenue_type"`
		SourceType      string                `json:"source_type"`
		SourceID        uuid.UUID             `json:"source_id"`
		GrossAmount     int64                 `json:"gross_amount"`
		PlatformFee     int64                 `json:"platform_fee"`
		DistributionFee int64                 `json:"distribution_fee"`
		ExpectedNet     *int64                `json:"expected_net,omitempty"`
		Currency        string                `json:"currency,omitempty"`
		SharePercent    float64               `json:"share_percent"`
		Splits          []domain.RevenueSplit `json:"splits,omitempty"`
		AccruedAt       time.Time             `json:"accrued_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=record_revenue outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	rev, err := h.ledger.Record(r.Context(), InternalActorFromRequest(r), app.RecordRevenueInput{
		ArtistID:        req.ArtistID,
		RevenueType:     req.RevenueType,
		SourceType:      req.SourceType,
		SourceID:        req.SourceID,
		GrossAmount:     req.GrossAmount,
		PlatformFee:     req.PlatformFee,
		DistributionFee: req.DistributionFee,
		ExpectedNet:     req.ExpectedNet,
		Currency:        req.Currency,
		SharePercent:    req.SharePercent,
		Splits:          req.Splits,
		AccruedAt:       req.AccruedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount),
			errors.Is(err, domain.ErrInvalidSplit),
			errors.Is(err, domain.ErrUnsupportedCurrency):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=record_revenue outcome=failed artist_id=%s err=%v", req.ArtistID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, rev)
}

// ProcessRevenueHandler marks a pending revenue row processed (available for payout).
func (h *FinanceHandlers) ProcessRevenueHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	rev, err := h.ledger.MarkProcessed(r.Context(), InternalActorFromRequest(r), id)
	if err != nil {
		if errors.Is(err, store.ErrRevenueNotFound) {
			h.writeError(w, http.StatusNotFound, "Revenue record not found")
			return
		}
		var terr *domain.TransitionError
		if errors.As(err, &terr) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=process_revenue outcome=failed revenue_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, rev)
}

// CreatePayoutHandler handles artist withdrawal requests. Creation is
// rate-limited per artist to blunt automated draining attempts.
func (h *FinanceHandlers) CreatePayoutHandler(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromRequest(r)

	var req struct {
		ArtistID    uuid.UUID                `json:"artist_id"`
		Amount      int64                    `json:"amount"`
		Method      string                   `json:"method"`
		Destination domain.PayoutDestination `json:"destination"`
		Metadata    map[string]interface{}   `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_payout outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if h.rateLimiter != nil {
		count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), "payout_create", req.ArtistID.String(), h.payoutLimitPerHour, time.Hour)
		if err != nil {
			log.Printf("level=warn component=api endpoint=create_payout msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		} else if count > h.payoutLimitPerHour {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many payout requests; try again later")
			return
		}
	}

	payout, err := h.governor.Create(r.Context(), actor, app.CreatePayoutInput{
		ArtistID:    req.ArtistID,
		Amount:      req.Amount,
		Method:      domain.PayoutMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		Destination: req.Destination,
		RequestedBy: actor.ActorID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writePayoutError(w, "create_payout", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, payout)
}

// GetPayoutHandler fetches a single payout by UUID.
func (h *FinanceHandlers) GetPayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	payout, err := h.repo.FindArtistPayoutByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			h.writeError(w, http.StatusNotFound, "Payout not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_payout outcome=failed payout_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// ApprovePayoutHandler approves a pending payout.
func (h *FinanceHandlers) ApprovePayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	actor := ActorFromRequest(r)

	var req struct {
		ApproverID string `json:"approver_id,omitempty"`
	}
	// Body is optional; the authenticated admin is the default approver.
	_ = json.NewDecoder(r.Body).Decode(&req)
	if strings.TrimSpace(req.ApproverID) == "" {
		req.ApproverID = actor.ActorID
	}

	payout, err := h.governor.Approve(r.Context(), actor, id, req.ApproverID)
	if err != nil {
		h.writePayoutError(w, "approve_payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// RejectPayoutHandler declines a pending payout with a reason.
func (h *FinanceHandlers) RejectPayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		h.writeError(w, http.StatusBadRequest, "A rejection reason is required")
		return
	}

	payout, err := h.governor.Reject(r.Context(), ActorFromRequest(r), id, req.Reason)
	if err != nil {
		h.writePayoutError(w, "reject_payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// CancelPayoutHandler withdraws a payout before disbursement.
func (h *FinanceHandlers) CancelPayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	payout, err := h.governor.Cancel(r.Context(), ActorFromRequest(r), id)
	if err != nil {
		h.writePayoutError(w, "cancel_payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// DisbursePayoutHandler submits an approved payout to the provider and moves
// it to processing.
func (h *FinanceHandlers) DisbursePayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	if h.disburser == nil || !h.disburser.Enabled() {
		h.writeError(w, http.StatusServiceUnavailable, "Provider disbursement is not configured")
		return
	}
	payout, err := h.disburser.Submit(r.Context(), ActorFromRequest(r), id)
	if err != nil {
		h.writePayoutError(w, "disburse_payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// ProcessPayoutHandler marks an approved payout as handed to the provider.
func (h *FinanceHandlers) ProcessPayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	payout, err := h.governor.MarkProcessing(r.Context(), ActorFromRequest(r), id)
	if err != nil {
		h.writePayoutError(w, "process_payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// CompletePayoutHandler finalizes a processing payout with the provider's
// transaction id.
func (h *FinanceHandlers) CompletePayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		ProviderTxID string `json:"provider_tx_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ProviderTxID) == "" {
		h.writeError(w, http.StatusBadRequest, "A provider transaction id is required")
		return
	}

	payout, err := h.governor.Complete(r.Context(), InternalActorFromRequest(r), id, req.ProviderTxID)
	if err != nil {
		h.writePayoutError(w, "complete_payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// FailPayoutHandler marks a processing payout failed with a reason.
func (h *FinanceHandlers) FailPayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		h.writeError(w, http.StatusBadRequest, "A failure reason is required")
		return
	}

	payout, err := h.governor.Fail(r.Context(), InternalActorFromRequest(r), id, req.Reason)
	if err != nil {
		h.writePayoutError(w, "fail_payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// RetryPayoutHandler returns a failed payout to approved for another attempt.
func (h *FinanceHandlers) RetryPayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	payout, err := h.governor.Retry(r.Context(), ActorFromRequest(r), id)
	if err != nil {
		h.writePayoutError(w, "retry_payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// DeletePayoutHandler soft-retires a payout record.
func (h *FinanceHandlers) DeletePayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	if err := h.governor.Delete(r.Context(), ActorFromRequest(r), id); err != nil {
		h.writePayoutError(w, "delete_payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Payout deleted"})
}

// RestorePayoutHandler reverses an administrative delete.
func (h *FinanceHandlers) RestorePayoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseIDParam(w, r)
	if !ok {
		return
	}
	if err := h.governor.Restore(r.Context(), ActorFromRequest(r), id); err != nil {
		h.writePayoutError(w, "restore_payout", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Payout restored"})
}

// GetArtistBalanceHandler reports an artist's available-for-payout balance.
func (h *FinanceHandlers) GetArtistBalanceHandler(w http.ResponseWriter, r *http.Request) {
	artistIDStr := chi.URLParam(r, "artistID")
	artistID, err := uuid.Parse(artistIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid artist ID format")
		return
	}

	balance, err := h.governor.AvailableBalance(r.Context(), artistID)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_balance outcome=failed artist_id=%s err=%v", artistID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"artist_id":         artistID.String(),
		"available_balance": balance,
	})
}

// GetAuditTrailHandler returns the audit records for one target entity,
// newest first.
func (h *FinanceHandlers) GetAuditTrailHandler(w http.ResponseWriter, r *http.Request) {
	targetType := strings.TrimSpace(chi.URLParam(r, "targetType"))
	targetID := strings.TrimSpace(chi.URLParam(r, "targetID"))
	if targetType == "" || targetID == "" {
		h.writeError(w, http.StatusBadRequest, "Target type and id are required")
		return
	}

	limit := h.auditPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	records, err := h.repo.ListAuditRecordsForTarget(r.Context(), targetType, targetID, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=get_audit_trail outcome=failed target=%s/%s err=%v", targetType, targetID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *FinanceHandlers) parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid ID format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *FinanceHandlers) writePaymentError(w http.ResponseWriter, endpoint string, err error) {
	var terr *domain.TransitionError
	switch {
	case errors.Is(err, store.ErrPaymentNotFound):
		h.writeError(w, http.StatusNotFound, "Payment not found")
	case errors.Is(err, store.ErrDuplicateReference):
		h.writeError(w, http.StatusConflict, "A payment with this reference already exists")
	case errors.As(err, &terr), errors.Is(err, domain.ErrInvalidPaymentState):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRefundExceedsOriginal):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnsupportedCurrency),
		errors.Is(err, domain.ErrUnsupportedMethod):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *FinanceHandlers) writePayoutError(w http.ResponseWriter, endpoint string, err error) {
	var terr *domain.TransitionError
	switch {
	case errors.Is(err, store.ErrPayoutNotFound):
		h.writeError(w, http.StatusNotFound, "Payout not found")
	case errors.Is(err, domain.ErrInsufficientBalance):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &terr):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnsupportedMethod),
		errors.Is(err, domain.ErrMissingDestination):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *FinanceHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *FinanceHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
