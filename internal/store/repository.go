/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the finance-service. By defining
 * an interface, we decouple the engine's business logic from the specific
 * database implementation (PostgreSQL), making the code more modular and
 * easier to test.
 *
 * @notes
 * - Transition methods are compare-and-swap: they only apply when the row is
 *   still in the expected status, and they commit the supplied audit record
 *   in the same database transaction, so no state change can exist without a
 *   corresponding trail entry.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tunewave/finance-service/internal/domain"
)

// PaymentStatusPatch carries the optional column updates applied together
// with a payment status transition.
type PaymentStatusPatch struct {
	FailureReason  *string
	RefundedAmount *int64
	RefundReason   *string
	Provider       *string
	Metadata       map[string]interface{} // merged into the existing metadata
	CompletedAt    *time.Time
	FailedAt       *time.Time
	RefundedAt     *time.Time
}

// PayoutStatusPatch carries the optional column updates applied together
// with a payout status transition.
type PayoutStatusPatch struct {
	ApprovedBy    *string
	FailureReason *string
	ProviderTxID  *string
	Metadata      map[string]interface{} // merged into the existing metadata
	ApprovedAt    *time.Time
	ProcessingAt  *time.Time
	CompletedAt   *time.Time
	FailedAt      *time.Time
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payment methods
	CreatePayment(ctx context.Context, p *domain.Payment, audit *domain.AuditRecord) error
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error)
	// TransitionPayment applies a compare-and-swap status change. It returns
	// ErrStatusConflict when the row is no longer in the expected status.
	TransitionPayment(ctx context.Context, id uuid.UUID, expected, next domain.PaymentStatus, patch PaymentStatusPatch, audit *domain.AuditRecord) error
	// ClaimHookExecution records that the named post-completion hook ran for
	// the payment reference. It reports true exactly once per (reference,
	// hook) pair, so duplicate provider deliveries cannot re-run a hook.
	ClaimHookExecution(ctx context.Context, paymentReference, hook string) (bool, error)

	// Artist revenue methods
	CreateArtistRevenue(ctx context.Context, rev *domain.ArtistRevenue, audit *domain.AuditRecord) error
	FindArtistRevenueByID(ctx context.Context, id uuid.UUID) (*domain.ArtistRevenue, error)
	// AdvanceRevenueStatus applies a compare-and-swap monotonic advance.
	AdvanceRevenueStatus(ctx context.Context, id uuid.UUID, expected, next domain.RevenueStatus, payoutID *uuid.UUID, audit *domain.AuditRecord) error
	// TrailingAverageRevenueNet returns the average net amount and sample
	// count of the artist's revenue rows of the given type since the cutoff,
	// excluding the row under evaluation.
	TrailingAverageRevenueNet(ctx context.Context, artistID uuid.UUID, revenueType string, since time.Time, exclude uuid.UUID) (avg int64, samples int, err error)

	// Artist payout methods
	// CreateArtistPayoutReservingRevenue inserts the payout and, in the same
	// transaction, attaches the artist's oldest processed unattached revenue
	// rows until their net amounts cover the requested amount. It returns
	// domain.ErrInsufficientBalance (and rolls back) when they cannot.
	CreateArtistPayoutReservingRevenue(ctx context.Context, p *domain.ArtistPayout, audit *domain.AuditRecord) error
	FindArtistPayoutByID(ctx context.Context, id uuid.UUID) (*domain.ArtistPayout, error)
	FindArtistPayoutByTransactionRef(ctx context.Context, ref string) (*domain.ArtistPayout, error)
	TransitionPayout(ctx context.Context, id uuid.UUID, expected, next domain.PayoutStatus, patch PayoutStatusPatch, audit *domain.AuditRecord) error
	// TransitionPayoutReleasingRevenue additionally detaches the payout's
	// reserved revenue rows in the same transaction, returning them to the
	// available balance. Used when a payout is rejected or cancelled so a
	// crash cannot strand reserved earnings after the transition commits.
	TransitionPayoutReleasingRevenue(ctx context.Context, id uuid.UUID, expected, next domain.PayoutStatus, patch PayoutStatusPatch, audit *domain.AuditRecord) (released int64, err error)
	// SettleRevenueForPayout marks the payout's attached revenue rows paid.
	SettleRevenueForPayout(ctx context.Context, payoutID uuid.UUID, audit *domain.AuditRecord) (int64, error)
	CountPayoutRequestsSince(ctx context.Context, artistID uuid.UUID, since time.Time, exclude uuid.UUID) (int, error)
	AverageCompletedPayoutAmount(ctx context.Context, artistID uuid.UUID) (avg int64, samples int, err error)
	// AvailablePayoutBalance is the sum of processed revenue net amounts not
	// attached to any payout.
	AvailablePayoutBalance(ctx context.Context, artistID uuid.UUID) (int64, error)
	SoftDeletePayout(ctx context.Context, id uuid.UUID, audit *domain.AuditRecord) error
	RestorePayout(ctx context.Context, id uuid.UUID, audit *domain.AuditRecord) error

	// Audit trail methods
	InsertAuditRecord(ctx context.Context, rec domain.AuditRecord) error
	ListAuditRecordsForTarget(ctx context.Context, targetType, targetID string, limit int) ([]domain.AuditRecord, error)
}
