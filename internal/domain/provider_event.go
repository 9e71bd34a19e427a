package domain

import "time"

// ProviderStatusEvent represents the callback message emitted by the payment
// provider adapter for payment and payout lifecycle updates. The provider
// assigns a monotonically increasing sequence number per reference, so stale
// replays can be detected and ignored.
// MetaProviderSequence is the metadata key under which the last applied
// provider sequence number is stored on a payment.
const MetaProviderSequence = "provider_sequence"

type ProviderStatusEvent struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"` // e.g. 'payment.status', 'payout.status'
	Reference    string    `json:"reference"`  // payment reference or payout transaction ref
	ProviderTxID string    `json:"provider_tx_id"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	Reason       string    `json:"reason"`
	Sequence     int64     `json:"sequence"`
	OccurredAt   time.Time `json:"occurred_at"`
}
