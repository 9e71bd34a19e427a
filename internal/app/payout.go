/**
 * @description
 * This file contains the artist payout governor: the state machine for
 * withdrawal requests. It enforces the governed transition table, derives
 * fee and net amount exactly once at creation, validates eligibility
 * against the available balance, and annotates fraud heuristics (large
 * payout threshold, request velocity, magnitude versus history) without
 * ever silently blocking a request.
 *
 * Key features:
 * - Creation reserves the artist's processed revenue rows atomically, so a
 *   concurrent second request cannot spend the same earnings.
 * - Rejected transitions are audited at critical severity, including the
 *   attempt itself.
 * - Completing a payout settles the attached revenue rows; repeating the
 *   call with the same provider transaction id is a no-op with no duplicate
 *   audit event.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For ID and reference generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For post-commit event fanout.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tunewave/finance-service/internal/domain"
	"github.com/tunewave/finance-service/internal/store"
	"github.com/tunewave/finance-service/pkg/rabbitmq"
)

// DefaultLargePayoutThreshold is the amount, in domestic minor units, at or
// above which a payout request is flagged for additional review.
const DefaultLargePayoutThreshold = 2_000_000

// BalanceSource supplies the artist's available-for-payout balance: the sum
// of processed revenue not yet attached to a payout.
type BalanceSource interface {
	AvailableBalance(ctx context.Context, artistID uuid.UUID) (int64, error)
}

// RepositoryBalanceSource derives the balance from the revenue ledger rows.
type RepositoryBalanceSource struct {
	repo store.Repository
}

func NewRepositoryBalanceSource(repo store.Repository) *RepositoryBalanceSource {
	return &RepositoryBalanceSource{repo: repo}
}

func (b *RepositoryBalanceSource) AvailableBalance(ctx context.Context, artistID uuid.UUID) (int64, error) {
	return b.repo.AvailablePayoutBalance(ctx, artistID)
}

// PayoutGovernor governs artist payout requests.
type PayoutGovernor struct {
	repo      store.Repository
	sink      AuditSink
	fees      *FeeCalculator
	detector  *AnomalyDetector
	balance   BalanceSource
	producer  rabbitmq.Publisher // may be nil
	domestic  string
	threshold int64
	now       func() time.Time
}

// NewPayoutGovernor creates the governor. threshold <= 0 falls back to
// DefaultLargePayoutThreshold; producer may be nil.
func NewPayoutGovernor(repo store.Repository, sink AuditSink, fees *FeeCalculator, detector *AnomalyDetector, balance BalanceSource, producer rabbitmq.Publisher, domesticCurrency string, threshold int64) *PayoutGovernor {
	if threshold <= 0 {
		threshold = DefaultLargePayoutThreshold
	}
	return &PayoutGovernor{
		repo:      repo,
		sink:      sink,
		fees:      fees,
		detector:  detector,
		balance:   balance,
		producer:  producer,
		domestic:  strings.ToUpper(strings.TrimSpace(domesticCurrency)),
		threshold: threshold,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreatePayoutInput is the input for creating a payout request.
type CreatePayoutInput struct {
	ArtistID    uuid.UUID
	Amount      int64
	Method      domain.PayoutMethod
	Destination domain.PayoutDestination
	RequestedBy string
	Metadata    map[string]interface{}
}

func validateDestination(method domain.PayoutMethod, dest domain.PayoutDestination) error {
	switch method {
	case domain.PayoutMethodMobileMoney, domain.PayoutMethodEWallet:
		if dest.PhoneNumber == nil || strings.TrimSpace(*dest.PhoneNumber) == "" {
			return fmt.Errorf("%w: %s payouts require a phone number", domain.ErrMissingDestination, method)
		}
	case domain.PayoutMethodBankTransfer:
		if dest.AccountNumber == nil || strings.TrimSpace(*dest.AccountNumber) == "" {
			return fmt.Errorf("%w: bank transfers require an account number", domain.ErrMissingDestination)
		}
	}
	return nil
}

// Create validates eligibility and persists a new pending payout. Fee and
// net amount are derived here and never recomputed. Fraud heuristics run
// once, before the insert, and their flags are persisted with the row.
func (g *PayoutGovernor) Create(ctx context.Context, actor domain.ActorContext, in CreatePayoutInput) (*domain.ArtistPayout, error) {
	if in.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !domain.ValidPayoutMethod(in.Method) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMethod, in.Method)
	}
	if err := validateDestination(in.Method, in.Destination); err != nil {
		return nil, err
	}

	available, err := g.balance.AvailableBalance(ctx, in.ArtistID)
	if err != nil {
		return nil, fmt.Errorf("failed to read available balance: %w", err)
	}
	if in.Amount > available {
		return nil, fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientBalance, in.Amount, available)
	}

	id := uuid.New()
	fee := g.fees.PayoutFee(in.Amount, in.Method)
	metadata := make(map[string]interface{}, len(in.Metadata)+4)
	for k, v := range in.Metadata {
		metadata[k] = v
	}

	large := in.Amount >= g.threshold
	if large {
		metadata[domain.MetaFlaggedAsLargePayout] = true
		metadata[domain.MetaRequiresAdditionalReview] = true
	}

	// Heuristics run once here; the persisted flags are not re-evaluated on
	// later transitions.
	velocity, err := g.detector.CheckPayoutVelocity(ctx, in.ArtistID, id)
	if err != nil {
		log.Printf("WARN: payout velocity check unavailable: artist=%s err=%v", in.ArtistID, err)
	}
	if velocity != nil {
		metadata[domain.MetaFlaggedMultipleRequests] = true
	}
	magnitude, err := g.detector.CheckPayoutMagnitude(ctx, in.ArtistID, in.Amount)
	if err != nil {
		log.Printf("WARN: payout magnitude check unavailable: artist=%s err=%v", in.ArtistID, err)
	}
	if magnitude != nil {
		metadata[domain.MetaFlaggedAmountAboveAverage] = true
	}

	payout := &domain.ArtistPayout{
		ID:             id,
		ArtistID:       in.ArtistID,
		Amount:         in.Amount,
		Fee:            fee,
		NetAmount:      in.Amount - fee,
		Currency:       g.domestic,
		Method:         in.Method,
		Destination:    in.Destination,
		Status:         domain.PayoutStatusPending,
		TransactionRef: "PO-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")),
		RequestedBy:    in.RequestedBy,
		Metadata:       metadata,
		RequestedAt:    g.now(),
	}

	audit := auditStatusChange(
		domain.AuditCategoryPayout, "payout.requested",
		fmt.Sprintf("payout %s requested: %d %s via %s (fee %d)", payout.TransactionRef, in.Amount, payout.Currency, in.Method, fee),
		actor, "artist_payout", id.String(), domain.AuditSeverityInfo,
		"", string(domain.PayoutStatusPending),
		map[string]interface{}{"amount": in.Amount, "fee": fee, "net": payout.NetAmount, "method": string(in.Method)},
	)
	if err := g.repo.CreateArtistPayoutReservingRevenue(ctx, payout, audit); err != nil {
		return nil, err
	}

	if large {
		g.auditFlag(ctx, actor, payout, domain.AuditSeverityWarning, "payout.flagged.large_amount",
			fmt.Sprintf("payout %s of %d meets the large payout threshold %d and requires additional review", payout.TransactionRef, in.Amount, g.threshold))
	}
	if velocity != nil {
		g.auditFlag(ctx, actor, payout, domain.AuditSeverityWarning, "payout.flagged.multiple_requests", velocity.Narrative)
	}
	if magnitude != nil {
		g.auditFlag(ctx, actor, payout, domain.AuditSeverityWarning, "payout.flagged.amount_above_average", magnitude.Narrative)
	}

	g.publish("payout.requested", payout)
	return payout, nil
}

func (g *PayoutGovernor) auditFlag(ctx context.Context, actor domain.ActorContext, p *domain.ArtistPayout, severity domain.AuditSeverity, event, narrative string) {
	g.sink.Record(ctx, domain.AuditRecord{
		Category:   domain.AuditCategoryPayout,
		Event:      event,
		Narrative:  narrative,
		Actor:      actor,
		TargetType: "artist_payout",
		TargetID:   p.ID.String(),
		Severity:   severity,
		Metadata:   map[string]interface{}{"artist_id": p.ArtistID.String(), "amount": p.Amount, "transaction_ref": p.TransactionRef},
	})
}

// transition applies one governed status change with compare-and-swap
// semantics. Disallowed transitions are audited at critical severity and
// rejected; losing a race surfaces the entity's observed state. release folds
// the return of reserved revenue into the same transaction as the status
// change, used for the reject and cancel targets.
func (g *PayoutGovernor) transition(ctx context.Context, actor domain.ActorContext, payout *domain.ArtistPayout, next domain.PayoutStatus, patch store.PayoutStatusPatch, release bool, event, narrative string) (*domain.ArtistPayout, error) {
	if !payout.Status.CanTransitionTo(next) {
		g.auditRejectedTransition(ctx, actor, payout, next)
		return nil, &domain.TransitionError{Entity: "artist_payout", From: string(payout.Status), To: string(next)}
	}

	audit := auditStatusChange(
		domain.AuditCategoryPayout, event, narrative,
		actor, "artist_payout", payout.ID.String(), domain.AuditSeverityInfo,
		string(payout.Status), string(next), nil,
	)
	var err error
	if release {
		var released int64
		released, err = g.repo.TransitionPayoutReleasingRevenue(ctx, payout.ID, payout.Status, next, patch, audit)
		if err == nil && released > 0 {
			log.Printf("level=info component=payout msg=\"reserved revenue released\" payout=%s rows=%d", payout.TransactionRef, released)
		}
	} else {
		err = g.repo.TransitionPayout(ctx, payout.ID, payout.Status, next, patch, audit)
	}
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			current, findErr := g.repo.FindArtistPayoutByID(ctx, payout.ID)
			if findErr != nil {
				return nil, findErr
			}
			if current.Status == next {
				return current, nil
			}
			g.auditRejectedTransition(ctx, actor, current, next)
			return nil, &domain.TransitionError{Entity: "artist_payout", From: string(current.Status), To: string(next)}
		}
		return nil, fmt.Errorf("failed to transition payout: %w", err)
	}

	updated, err := g.repo.FindArtistPayoutByID(ctx, payout.ID)
	if err != nil {
		return nil, err
	}
	g.publish("payout.status."+string(next), updated)
	return updated, nil
}

func (g *PayoutGovernor) auditRejectedTransition(ctx context.Context, actor domain.ActorContext, p *domain.ArtistPayout, wanted domain.PayoutStatus) {
	g.sink.Record(ctx, domain.AuditRecord{
		Category:   domain.AuditCategoryPayout,
		Event:      "payout.transition_rejected",
		Narrative:  fmt.Sprintf("rejected payout transition %s -> %s for %s", p.Status, wanted, p.TransactionRef),
		Actor:      actor,
		TargetType: "artist_payout",
		TargetID:   p.ID.String(),
		Severity:   domain.AuditSeverityCritical,
		OldValues:  map[string]interface{}{"status": string(p.Status)},
		NewValues:  map[string]interface{}{"status": string(wanted)},
	})
}

// Approve moves a pending payout to approved. Approval identity is
// compliance-sensitive, so a distinct audit event is recorded on top of the
// generic status-change entry the repository commits.
func (g *PayoutGovernor) Approve(ctx context.Context, actor domain.ActorContext, payoutID uuid.UUID, approverID string) (*domain.ArtistPayout, error) {
	payout, err := g.repo.FindArtistPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	patch := store.PayoutStatusPatch{ApprovedBy: &approverID, ApprovedAt: &now}
	updated, err := g.transition(ctx, actor, payout, domain.PayoutStatusApproved, patch, false,
		"payout.status_changed", fmt.Sprintf("payout %s approved by %s", payout.TransactionRef, approverID))
	if err != nil {
		return nil, err
	}

	g.sink.Record(ctx, domain.AuditRecord{
		Category:   domain.AuditCategoryPayout,
		Event:      "payout.approved",
		Narrative:  fmt.Sprintf("payout %s of %d %s approved", updated.TransactionRef, updated.Amount, updated.Currency),
		Actor:      actor,
		TargetType: "artist_payout",
		TargetID:   updated.ID.String(),
		Severity:   domain.AuditSeverityNotice,
		Metadata:   map[string]interface{}{"approved_by": approverID, "amount": updated.Amount, "fee": updated.Fee},
	})
	return updated, nil
}

// Reject declines a pending payout and returns its reserved earnings to the
// available balance.
func (g *PayoutGovernor) Reject(ctx context.Context, actor domain.ActorContext, payoutID uuid.UUID, reason string) (*domain.ArtistPayout, error) {
	payout, err := g.repo.FindArtistPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	patch := store.PayoutStatusPatch{FailureReason: &reason}
	return g.transition(ctx, actor, payout, domain.PayoutStatusRejected, patch, true,
		"payout.status_changed", fmt.Sprintf("payout %s rejected: %s", payout.TransactionRef, reason))
}

// Cancel withdraws a pending or approved payout and returns its reserved
// earnings to the available balance.
func (g *PayoutGovernor) Cancel(ctx context.Context, actor domain.ActorContext, payoutID uuid.UUID) (*domain.ArtistPayout, error) {
	payout, err := g.repo.FindArtistPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	return g.transition(ctx, actor, payout, domain.PayoutStatusCancelled, store.PayoutStatusPatch{}, true,
		"payout.status_changed", fmt.Sprintf("payout %s cancelled", payout.TransactionRef))
}

// MarkProcessing moves an approved payout to processing, meaning the
// disbursement has been handed to the provider.
func (g *PayoutGovernor) MarkProcessing(ctx context.Context, actor domain.ActorContext, payoutID uuid.UUID) (*domain.ArtistPayout, error) {
	payout, err := g.repo.FindArtistPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	patch := store.PayoutStatusPatch{ProcessingAt: &now}
	return g.transition(ctx, actor, payout, domain.PayoutStatusProcessing, patch, false,
		"payout.status_changed", fmt.Sprintf("payout %s handed to the provider for disbursement", payout.TransactionRef))
}

// Complete finalizes a processing payout with the provider's transaction id
// and settles the attached revenue rows. Repeating the call with the same
// provider transaction id is a no-op and produces no duplicate audit event.
func (g *PayoutGovernor) Complete(ctx context.Context, actor domain.ActorContext, payoutID uuid.UUID, providerTxID string) (*domain.ArtistPayout, error) {
	payout, err := g.repo.FindArtistPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status == domain.PayoutStatusCompleted {
		if payout.ProviderTxID != nil && *payout.ProviderTxID == providerTxID {
			return payout, nil
		}
		g.auditRejectedTransition(ctx, actor, payout, domain.PayoutStatusCompleted)
		return nil, &domain.TransitionError{Entity: "artist_payout", From: string(payout.Status), To: string(domain.PayoutStatusCompleted)}
	}

	now := g.now()
	patch := store.PayoutStatusPatch{ProviderTxID: &providerTxID, CompletedAt: &now}
	updated, err := g.transition(ctx, actor, payout, domain.PayoutStatusCompleted, patch, false,
		"payout.status_changed", fmt.Sprintf("payout %s completed by provider tx %s", payout.TransactionRef, providerTxID))
	if err != nil {
		return nil, err
	}

	settleAudit := &domain.AuditRecord{
		Category:   domain.AuditCategoryPayout,
		Event:      "payout.revenue_settled",
		Narrative:  fmt.Sprintf("revenue attached to payout %s marked paid", updated.TransactionRef),
		Actor:      actor,
		TargetType: "artist_payout",
		TargetID:   updated.ID.String(),
		Severity:   domain.AuditSeverityInfo,
	}
	settled, err := g.repo.SettleRevenueForPayout(ctx, updated.ID, settleAudit)
	if err != nil {
		// The payout is committed; settlement is retried by reconciliation,
		// never unwound.
		log.Printf("CRITICAL: revenue settlement failed after payout completion: payout=%s err=%v", updated.TransactionRef, err)
	} else {
		log.Printf("level=info component=payout msg=\"revenue settled\" payout=%s rows=%d", updated.TransactionRef, settled)
	}
	return updated, nil
}

// Fail marks a processing payout failed with a reason. The payout stays
// eligible for Retry; its reserved revenue remains attached. Calling Fail on
// an already-failed payout is a no-op.
func (g *PayoutGovernor) Fail(ctx context.Context, actor domain.ActorContext, payoutID uuid.UUID, reason string) (*domain.ArtistPayout, error) {
	payout, err := g.repo.FindArtistPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status == domain.PayoutStatusFailed {
		return payout, nil
	}
	now := g.now()
	patch := store.PayoutStatusPatch{FailureReason: &reason, FailedAt: &now}
	return g.transition(ctx, actor, payout, domain.PayoutStatusFailed, patch, false,
		"payout.status_changed", fmt.Sprintf("payout %s failed: %s", payout.TransactionRef, reason))
}

// Retry moves a failed payout back to approved for another disbursement
// attempt. This is the only path out of failed.
func (g *PayoutGovernor) Retry(ctx context.Context, actor domain.ActorContext, payoutID uuid.UUID) (*domain.ArtistPayout, error) {
	payout, err := g.repo.FindArtistPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	return g.transition(ctx, actor, payout, domain.PayoutStatusApproved, store.PayoutStatusPatch{}, false,
		"payout.status_changed", fmt.Sprintf("payout %s returned to approved for retry", payout.TransactionRef))
}

// Delete soft-retires a payout record. Deleting financial records is
// exceptional, so the action is always audited at critical severity.
func (g *PayoutGovernor) Delete(ctx context.Context, actor domain.ActorContext, payoutID uuid.UUID) error {
	payout, err := g.repo.FindArtistPayoutByID(ctx, payoutID)
	if err != nil {
		return err
	}
	audit := &domain.AuditRecord{
		Category:   domain.AuditCategoryPayout,
		Event:      "payout.deleted",
		Narrative:  fmt.Sprintf("payout %s administratively deleted", payout.TransactionRef),
		Actor:      actor,
		TargetType: "artist_payout",
		TargetID:   payout.ID.String(),
		Severity:   domain.AuditSeverityCritical,
		OldValues:  map[string]interface{}{"status": string(payout.Status), "amount": payout.Amount},
	}
	return g.repo.SoftDeletePayout(ctx, payoutID, audit)
}

// Restore reverses an administrative delete; restoration is itself audited
// at critical severity.
func (g *PayoutGovernor) Restore(ctx context.Context, actor domain.ActorContext, payoutID uuid.UUID) error {
	audit := &domain.AuditRecord{
		Category:   domain.AuditCategoryPayout,
		Event:      "payout.restored",
		Narrative:  fmt.Sprintf("payout %s restored from deletion", payoutID),
		Actor:      actor,
		TargetType: "artist_payout",
		TargetID:   payoutID.String(),
		Severity:   domain.AuditSeverityCritical,
	}
	return g.repo.RestorePayout(ctx, payoutID, audit)
}

// AvailableBalance exposes the balance collaborator to the API layer.
func (g *PayoutGovernor) AvailableBalance(ctx context.Context, artistID uuid.UUID) (int64, error) {
	return g.balance.AvailableBalance(ctx, artistID)
}

func (g *PayoutGovernor) publish(routingKey string, payout *domain.ArtistPayout) {
	if g.producer == nil {
		return
	}
	if err := g.producer.Publish(context.Background(), rabbitmq.EventsExchange, routingKey, payout); err != nil {
		log.Printf("WARN: payout event publish failed: routing_key=%s payout=%s err=%v", routingKey, payout.TransactionRef, err)
	}
}
