/**
 * @description
 * This file contains the payment lifecycle: the state machine governing a
 * single payment from creation to a terminal state. All payment mutations
 * go through this component; the audit row for every transition is committed
 * in the same database transaction as the status change.
 *
 * Key features:
 * - Validates and creates payments with a unique external reference.
 * - Enforces the allowed transition graph with compare-and-swap updates, so
 *   concurrent transition attempts serialize and the loser observes the new
 *   state.
 * - Runs an explicit, ordered list of post-commit completion hooks (revenue
 *   recognition, auto-deposit, loyalty), each isolated so a hook failure can
 *   never roll back or fail the payment itself.
 *
 * @dependencies
 * - context, crypto/sha256, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For ID and reference generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For post-commit event fanout.
 */

package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

// CompletionHook is one post-commit side effect registered against the
// completed transition. Hooks run in registration order, at most once per
// payment reference, and their failures are logged, never propagated.
type CompletionHook func(ctx context.Context, payment *domain.Payment) error

type registeredHook struct {
	name string
	fn   CompletionHook
}

// PaymentLifecycle governs payment state.
type PaymentLifecycle struct {
	repo       store.Repository
	sink       AuditSink
	producer   rabbitmq.Publisher // may be nil
	domestic   string
	currencies map[string]bool
	hooks      []registeredHook
	now        func() time.Time
}

// NewPaymentLifecycle creates the lifecycle. supportedCurrencies must
// include the domestic currency; producer may be nil.
func NewPaymentLifecycle(repo store.Repository, sink AuditSink, producer rabbitmq.Publisher, domesticCurrency string, supportedCurrencies []string) *PaymentLifecycle {
	currencies := make(map[string]bool, len(supportedCurrencies)+1)
	for _, c := range supportedCurrencies {
		currencies[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	domestic := strings.ToUpper(strings.TrimSpace(domesticCurrency))
	currencies[domestic] = true

	return &PaymentLifecycle{
		repo:       repo,
		sink:       sink,
		producer:   producer,
		domestic:   domestic,
		currencies: currencies,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterCompletionHook appends a named post-commit hook to the ordered
// list run when a payment completes.
func (l *PaymentLifecycle) RegisterCompletionHook(name string, fn CompletionHook) {
	l.hooks = append(l.hooks, registeredHook{name: name, fn: fn})
}

// CreatePaymentInput is the input for creating a payment.
type CreatePaymentInput struct {
	PayerID     uuid.UUID
	Amount      int64
	Currency    string // defaults to the domestic currency
	Method      domain.PaymentMethod
	Provider    *string
	Reference   string // generated when absent
	PayableType *string
	PayableID   *uuid.UUID
	Description string
	Metadata    map[string]interface{}
}

// paymentIntegrityDigest covers the fields that only this component may
// write after creation.
func paymentIntegrityDigest(id uuid.UUID, amount int64, currency, reference string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s", id, amount, currency, reference)))
	return hex.EncodeToString(sum[:])
}

// Create validates the input and persists a new pending payment, auditing
// the creation in the same transaction.
func (l *PaymentLifecycle) Create(ctx context.Context, actor domain.ActorContext, in CreatePaymentInput) (*domain.Payment, error) {
	if in.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = l.domestic
	}
	if !l.currencies[currency] {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, currency)
	}
	if !domain.ValidPaymentMethod(in.Method) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMethod, in.Method)
	}

	id := uuid.New()
	reference := strings.TrimSpace(in.Reference)
	if reference == "" {
		reference = "PAY-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}

	payment := &domain.Payment{
		ID:              id,
		PayerID:         in.PayerID,
		Amount:          in.Amount,
		Currency:        currency,
		Method:          in.Method,
		Provider:        in.Provider,
		Status:          domain.PaymentStatusPending,
		Reference:       reference,
		PayableType:     in.PayableType,
		PayableID:       in.PayableID,
		Description:     in.Description,
		Metadata:        in.Metadata,
		IntegrityDigest: paymentIntegrityDigest(id, in.Amount, currency, reference),
		InitiatedAt:     l.now(),
	}

	audit := auditStatusChange(
		domain.AuditCategoryPayment, "payment.created",
		fmt.Sprintf("payment %s created for %d %s via %s", reference, in.Amount, currency, in.Method),
		actor, "payment", id.String(), domain.AuditSeverityInfo, "", string(domain.PaymentStatusPending),
		map[string]interface{}{"amount": in.Amount, "currency": currency, "method": string(in.Method)},
	)
	if err := l.repo.CreatePayment(ctx, payment, audit); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	l.publish("payment.created", payment)
	return payment, nil
}

// verifyIntegrity re-checks the creation digest on a loaded payment. A
// mismatch means amount, currency, or reference was written outside this
// component; that is audited at critical severity but the operation is
// allowed to proceed.
func (l *PaymentLifecycle) verifyIntegrity(ctx context.Context, actor domain.ActorContext, p *domain.Payment) {
	if p.IntegrityDigest == "" {
		return
	}
	if paymentIntegrityDigest(p.ID, p.Amount, p.Currency, p.Reference) == p.IntegrityDigest {
		return
	}
	l.sink.Record(ctx, domain.AuditRecord{
		Category:   domain.AuditCategoryPayment,
		Event:      "payment.integrity.direct_write",
		Narrative:  fmt.Sprintf("payment %s was mutated outside the lifecycle: integrity digest mismatch", p.Reference),
		Actor:      actor,
		TargetType: "payment",
		TargetID:   p.ID.String(),
		Severity:   domain.AuditSeverityCritical,
		NewValues:  map[string]interface{}{"amount": p.Amount, "currency": p.Currency, "reference": p.Reference},
	})
}

// Transition moves a payment to newStatus. A repeat transition into the
// state the payment already holds is a no-op. Disallowed transitions return
// a TransitionError after auditing the attempt.
func (l *PaymentLifecycle) Transition(ctx context.Context, actor domain.ActorContext, paymentID uuid.UUID, newStatus domain.PaymentStatus, metadata map[string]interface{}) (*domain.Payment, error) {
	payment, err := l.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	l.verifyIntegrity(ctx, actor, payment)

	if payment.Status == newStatus {
		// Idempotent repeat, typically a duplicate provider callback.
		return payment, nil
	}
	if !payment.Status.CanTransitionTo(newStatus) {
		l.auditRejectedTransition(ctx, actor, payment, newStatus)
		return nil, &domain.TransitionError{Entity: "payment", From: string(payment.Status), To: string(newStatus)}
	}

	patch := store.PaymentStatusPatch{Metadata: metadata}
	now := l.now()
	switch newStatus {
	case domain.PaymentStatusCompleted:
		patch.CompletedAt = &now
	case domain.PaymentStatusFailed:
		patch.FailedAt = &now
		if reason, ok := metadata["failure_reason"].(string); ok && reason != "" {
			patch.FailureReason = &reason
		}
	}

	audit := auditStatusChange(
		domain.AuditCategoryPayment, "payment.status_changed",
		fmt.Sprintf("payment %s moved from %s to %s", payment.Reference, payment.Status, newStatus),
		actor, "payment", payment.ID.String(), domain.AuditSeverityInfo,
		string(payment.Status), string(newStatus), metadata,
	)

	if err := l.repo.TransitionPayment(ctx, payment.ID, payment.Status, newStatus, patch, audit); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return l.resolveTransitionConflict(ctx, actor, paymentID, newStatus)
		}
		return nil, fmt.Errorf("failed to transition payment: %w", err)
	}

	updated, err := l.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	l.publish("payment.status."+string(newStatus), updated)
	if newStatus == domain.PaymentStatusCompleted {
		l.runCompletionHooks(ctx, updated)
	}
	return updated, nil
}

// resolveTransitionConflict handles losing a compare-and-swap race: the
// caller observes the entity's new state and is rejected unless the winner
// applied the very transition it wanted.
func (l *PaymentLifecycle) resolveTransitionConflict(ctx context.Context, actor domain.ActorContext, paymentID uuid.UUID, wanted domain.PaymentStatus) (*domain.Payment, error) {
	current, err := l.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if current.Status == wanted {
		return current, nil
	}
	l.auditRejectedTransition(ctx, actor, current, wanted)
	return nil, &domain.TransitionError{Entity: "payment", From: string(current.Status), To: string(wanted)}
}

func (l *PaymentLifecycle) auditRejectedTransition(ctx context.Context, actor domain.ActorContext, p *domain.Payment, wanted domain.PaymentStatus) {
	l.sink.Record(ctx, domain.AuditRecord{
		Category:   domain.AuditCategoryPayment,
		Event:      "payment.transition_rejected",
		Narrative:  fmt.Sprintf("rejected payment transition %s -> %s for %s", p.Status, wanted, p.Reference),
		Actor:      actor,
		TargetType: "payment",
		TargetID:   p.ID.String(),
		Severity:   domain.AuditSeverityWarning,
		OldValues:  map[string]interface{}{"status": string(p.Status)},
		NewValues:  map[string]interface{}{"status": string(wanted)},
	})
}

// Fail is a convenience wrapper used by provider integrations. It is safe
// to call even when the payment has already reached a terminal state.
func (l *PaymentLifecycle) Fail(ctx context.Context, actor domain.ActorContext, paymentID uuid.UUID, reason string) (*domain.Payment, error) {
	return l.Transition(ctx, actor, paymentID, domain.PaymentStatusFailed, map[string]interface{}{"failure_reason": reason})
}

// Refund refunds a completed payment. amount defaults to the full original
// amount when nil.
func (l *PaymentLifecycle) Refund(ctx context.Context, actor domain.ActorContext, paymentID uuid.UUID, amount *int64, reason string) (*domain.Payment, error) {
	payment, err := l.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	l.verifyIntegrity(ctx, actor, payment)

	if payment.Status != domain.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrInvalidPaymentState, payment.Status)
	}

	refundAmount := payment.Amount
	if amount != nil {
		refundAmount = *amount
	}
	if refundAmount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if refundAmount > payment.Amount {
		return nil, domain.ErrRefundExceedsOriginal
	}

	now := l.now()
	patch := store.PaymentStatusPatch{
		RefundedAmount: &refundAmount,
		RefundReason:   &reason,
		RefundedAt:     &now,
	}
	audit := auditStatusChange(
		domain.AuditCategoryPayment, "payment.refunded",
		fmt.Sprintf("payment %s refunded %d of %d: %s", payment.Reference, refundAmount, payment.Amount, reason),
		actor, "payment", payment.ID.String(), domain.AuditSeverityNotice,
		string(domain.PaymentStatusCompleted), string(domain.PaymentStatusRefunded),
		map[string]interface{}{"refund_amount": refundAmount, "refund_reason": reason},
	)

	if err := l.repo.TransitionPayment(ctx, payment.ID, domain.PaymentStatusCompleted, domain.PaymentStatusRefunded, patch, audit); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			current, findErr := l.repo.FindPaymentByID(ctx, paymentID)
			if findErr != nil {
				return nil, findErr
			}
			if current.Status == domain.PaymentStatusRefunded {
				return current, nil
			}
			return nil, fmt.Errorf("%w: status is %s", domain.ErrInvalidPaymentState, current.Status)
		}
		return nil, fmt.Errorf("failed to refund payment: %w", err)
	}

	updated, err := l.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	l.publish("payment.status.refunded", updated)
	return updated, nil
}

// runCompletionHooks executes the ordered post-commit hooks. Each hook runs
// at most once per payment reference (duplicate provider delivery does not
// re-run recognition) and is isolated: a panic or error is logged and never
// affects the committed payment.
func (l *PaymentLifecycle) runCompletionHooks(ctx context.Context, payment *domain.Payment) {
	for _, hook := range l.hooks {
		first, err := l.repo.ClaimHookExecution(ctx, payment.Reference, hook.name)
		if err != nil {
			log.Printf("WARN: could not claim hook execution: hook=%s payment=%s err=%v", hook.name, payment.Reference, err)
			continue
		}
		if !first {
			continue
		}
		l.runHook(ctx, hook, payment)
	}
}

func (l *PaymentLifecycle) runHook(ctx context.Context, hook registeredHook, payment *domain.Payment) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("CRITICAL: completion hook panicked: hook=%s payment=%s panic=%v", hook.name, payment.Reference, rec)
		}
	}()
	if err := hook.fn(ctx, payment); err != nil {
		log.Printf("WARN: completion hook failed: hook=%s payment=%s err=%v", hook.name, payment.Reference, err)
	}
}

func (l *PaymentLifecycle) publish(routingKey string, payment *domain.Payment) {
	if l.producer == nil {
		return
	}
	if err := l.producer.Publish(context.Background(), rabbitmq.EventsExchange, routingKey, payment); err != nil {
		log.Printf("WARN: payment event publish failed: routing_key=%s payment=%s err=%v", routingKey, payment.Reference, err)
	}
}
