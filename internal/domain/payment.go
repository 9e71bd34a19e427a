/**
 * @description
 * This file defines the Payment entity and its closed status/method
 * enumerations. A Payment is a single money movement attempt (subscription
 * charge, royalty receipt, store purchase) and is mutated only by the
 * payment lifecycle in internal/app.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data.
 * - Statuses are typed constants instead of free-form strings so the
 *   transition graph can be checked exhaustively.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus enumerates the lifecycle states of a Payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// PaymentMethod enumerates the supported payment channels.
type PaymentMethod string

const (
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCash         PaymentMethod = "cash"
)

// ValidPaymentMethod reports whether m is one of the supported channels.
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodMobileMoney, PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodCash:
		return true
	}
	return false
}

// paymentTransitions is the allowed transition graph:
// pending -> {processing -> completed | failed} | cancelled | failed,
// completed -> refunded (refund path only).
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
}

// CanTransitionTo reports whether the status graph permits moving from s to next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s admits no further transition other than the
// completed -> refunded path.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// Payment represents the central ledger record for a money movement attempt.
// This struct maps directly to the `payments` table in the database.
type Payment struct {
	ID              uuid.UUID              `json:"id"`
	PayerID         uuid.UUID              `json:"payer_id"`
	Amount          int64                  `json:"amount"` // in minor units
	Currency        string                 `json:"currency"`
	Method          PaymentMethod          `json:"method"`
	Provider        *string                `json:"provider,omitempty"`
	Status          PaymentStatus          `json:"status"`
	Reference       string                 `json:"reference"` // globally unique, externally visible
	PayableType     *string                `json:"payable_type,omitempty"`
	PayableID       *uuid.UUID             `json:"payable_id,omitempty"`
	Description     string                 `json:"description"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	FailureReason   *string                `json:"failure_reason,omitempty"`
	RefundedAmount  *int64                 `json:"refunded_amount,omitempty"`
	RefundReason    *string                `json:"refund_reason,omitempty"`
	IntegrityDigest string                 `json:"-"` // written at creation, verified on load
	InitiatedAt     time.Time              `json:"initiated_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	FailedAt        *time.Time             `json:"failed_at,omitempty"`
	RefundedAt      *time.Time             `json:"refunded_at,omitempty"`
	DeletedAt       *time.Time             `json:"-"` // soft-retired, never physically deleted
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}
