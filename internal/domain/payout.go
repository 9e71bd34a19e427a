/**
 * @description
 * This file defines the ArtistPayout entity: an artist's request to withdraw
 * accrued earnings to an external destination (mobile wallet or bank
 * account). Payouts move through a governed transition table enforced by
 * the payout governor in internal/app.
 *
 * @notes
 * - Fee and net amount are derived once at creation and never recomputed.
 * - Metadata carries the risk flags raised by the anomaly detector
 *   (flagged_as_large_payout, flagged_multiple_requests, ...).
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus enumerates the lifecycle states of an ArtistPayout.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusApproved   PayoutStatus = "approved"
	PayoutStatusRejected   PayoutStatus = "rejected"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// PayoutMethod enumerates the supported disbursement channels.
type PayoutMethod string

const (
	PayoutMethodMobileMoney  PayoutMethod = "mobile_money"
	PayoutMethodBankTransfer PayoutMethod = "bank_transfer"
	PayoutMethodEWallet      PayoutMethod = "ewallet"
)

// ValidPayoutMethod reports whether m is one of the supported channels.
func ValidPayoutMethod(m PayoutMethod) bool {
	switch m {
	case PayoutMethodMobileMoney, PayoutMethodBankTransfer, PayoutMethodEWallet:
		return true
	}
	return false
}

// payoutTransitions is the governed transition table:
//
//	pending    -> approved | rejected | cancelled
//	approved   -> processing | cancelled
//	processing -> completed | failed
//	failed     -> approved   (retry path only)
var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusPending:    {PayoutStatusApproved, PayoutStatusRejected, PayoutStatusCancelled},
	PayoutStatusApproved:   {PayoutStatusProcessing, PayoutStatusCancelled},
	PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed},
	PayoutStatusFailed:     {PayoutStatusApproved},
}

// CanTransitionTo reports whether the governed table permits moving from s to next.
func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	for _, allowed := range payoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s admits no further transition. failed is not
// terminal: it keeps the retry path back to approved.
func (s PayoutStatus) IsTerminal() bool {
	switch s {
	case PayoutStatusRejected, PayoutStatusCancelled, PayoutStatusCompleted:
		return true
	}
	return false
}

// PayoutDestination holds the external destination details for a payout.
// Mobile money and e-wallet payouts require a phone number; bank transfers
// require account details.
type PayoutDestination struct {
	PhoneNumber   *string `json:"phone_number,omitempty"`
	BankName      *string `json:"bank_name,omitempty"`
	AccountName   *string `json:"account_name,omitempty"`
	AccountNumber *string `json:"account_number,omitempty"`
}

// Empty reports whether no destination detail was supplied at all.
func (d PayoutDestination) Empty() bool {
	return d.PhoneNumber == nil && d.BankName == nil && d.AccountName == nil && d.AccountNumber == nil
}

// ArtistPayout represents a withdrawal request for accrued artist earnings.
// This struct maps directly to the `artist_payouts` table.
type ArtistPayout struct {
	ID             uuid.UUID              `json:"id"`
	ArtistID       uuid.UUID              `json:"artist_id"`
	Amount         int64                  `json:"amount"` // requested, in minor units
	Fee            int64                  `json:"fee"`
	NetAmount      int64                  `json:"net_amount"`
	Currency       string                 `json:"currency"`
	Method         PayoutMethod           `json:"method"`
	Destination    PayoutDestination      `json:"destination"`
	Status         PayoutStatus           `json:"status"`
	TransactionRef string                 `json:"transaction_ref"` // internally generated, unique
	ProviderTxID   *string                `json:"provider_tx_id,omitempty"`
	RequestedBy    string                 `json:"requested_by"`
	ApprovedBy     *string                `json:"approved_by,omitempty"`
	FailureReason  *string                `json:"failure_reason,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"` // risk flags live here
	RequestedAt    time.Time              `json:"requested_at"`
	ApprovedAt     *time.Time             `json:"approved_at,omitempty"`
	ProcessingAt   *time.Time             `json:"processing_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	FailedAt       *time.Time             `json:"failed_at,omitempty"`
	DeletedAt      *time.Time             `json:"-"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Risk flag metadata keys annotated on payouts at creation time.
const (
	MetaFlaggedAsLargePayout      = "flagged_as_large_payout"
	MetaRequiresAdditionalReview  = "requires_additional_review"
	MetaFlaggedMultipleRequests   = "flagged_multiple_requests"
	MetaFlaggedAmountAboveAverage = "flagged_amount_above_average"
)
