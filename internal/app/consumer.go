/**
 * @description
 * This file contains the consumer that applies asynchronous provider status
 * events to payments and payouts. Events arrive over RabbitMQ from the
 * payment provider integration and are mapped onto the governed state
 * machines; the engines remain the single place transition rules live.
 *
 * Key features:
 * - Malformed payloads and unknown references are acknowledged, never
 *   requeued, so a poison message cannot wedge the queue.
 * - Stale replays (the entity already sits at the target status) resolve as
 *   no-ops inside the engines.
 * - Transient errors (database unavailability) NACK the message for redelivery.
 *
 * @dependencies
 * - internal/app engines: For governed transitions.
 * - internal/store: For reference lookups.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tunewave/finance-service/internal/domain"
	"github.com/tunewave/finance-service/internal/store"
)

const consumerTimeout = 15 * time.Second

// ProviderStatusConsumer routes provider status events to the payment
// lifecycle and payout governor.
type ProviderStatusConsumer struct {
	repo      store.Repository
	lifecycle *PaymentLifecycle
	governor  *PayoutGovernor
}

func NewProviderStatusConsumer(repo store.Repository, lifecycle *PaymentLifecycle, governor *PayoutGovernor) *ProviderStatusConsumer {
	return &ProviderStatusConsumer{repo: repo, lifecycle: lifecycle, governor: governor}
}

// HandlePaymentMessage processes one payment status event. The returned bool
// is the ack decision: true acknowledges, false requeues.
func (c *ProviderStatusConsumer) HandlePaymentMessage(body []byte) bool {
	var event domain.ProviderStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("provider-consumer: failed to unmarshal payment event: %v", err)
		return true
	}
	if event.Reference == "" {
		log.Printf("provider-consumer: payment event missing reference: %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if err := c.processPaymentEvent(ctx, event); err != nil {
		log.Printf("provider-consumer: payment event error for %s: %v", event.Reference, err)
		return false
	}
	return true
}

func (c *ProviderStatusConsumer) processPaymentEvent(ctx context.Context, event domain.ProviderStatusEvent) error {
	payment, err := c.repo.FindPaymentByReference(ctx, event.Reference)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("provider-consumer: no payment found for reference %s; acknowledging", event.Reference)
			return nil
		}
		return fmt.Errorf("lookup payment: %w", err)
	}

	actor := domain.SystemActor("provider-consumer")
	var target domain.PaymentStatus
	switch normalizeProviderStatus(event.Status) {
	case "completed":
		target = domain.PaymentStatusCompleted
	case "failed":
		target = domain.PaymentStatusFailed
	case "processing":
		target = domain.PaymentStatusProcessing
	default:
		log.Printf("provider-consumer: ignoring unmapped payment status %q for %s", event.Status, event.Reference)
		return nil
	}

	metadata := map[string]interface{}{"provider_event_id": event.EventID}
	if event.Sequence > 0 {
		if last, ok := metadataSequence(payment.Metadata); ok && last >= event.Sequence {
			log.Printf("provider-consumer: out-of-order payment event for %s: sequence %d already applied (last %d)", event.Reference, event.Sequence, last)
			return nil
		}
		metadata[domain.MetaProviderSequence] = event.Sequence
	}
	if event.ProviderTxID != "" {
		metadata["provider_tx_id"] = event.ProviderTxID
	}
	if event.Reason != "" {
		metadata["failure_reason"] = event.Reason
	}

	_, err = c.lifecycle.Transition(ctx, actor, payment.ID, target, metadata)
	if err != nil {
		var terr *domain.TransitionError
		if errors.As(err, &terr) {
			// A replayed or out-of-order event against a terminal payment is
			// already audited by the lifecycle; do not requeue it.
			log.Printf("provider-consumer: stale payment event for %s: %v", event.Reference, err)
			return nil
		}
		return err
	}
	return nil
}

// HandlePayoutMessage processes one payout disbursement status event.
func (c *ProviderStatusConsumer) HandlePayoutMessage(body []byte) bool {
	var event domain.ProviderStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("provider-consumer: failed to unmarshal payout event: %v", err)
		return true
	}
	if event.Reference == "" {
		log.Printf("provider-consumer: payout event missing reference: %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if err := c.processPayoutEvent(ctx, event); err != nil {
		log.Printf("provider-consumer: payout event error for %s: %v", event.Reference, err)
		return false
	}
	return true
}

func (c *ProviderStatusConsumer) processPayoutEvent(ctx context.Context, event domain.ProviderStatusEvent) error {
	payout, err := c.repo.FindArtistPayoutByTransactionRef(ctx, event.Reference)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			log.Printf("provider-consumer: no payout found for reference %s; acknowledging", event.Reference)
			return nil
		}
		return fmt.Errorf("lookup payout: %w", err)
	}

	actor := domain.SystemActor("provider-consumer")
	switch normalizeProviderStatus(event.Status) {
	case "completed":
		_, err = c.governor.Complete(ctx, actor, payout.ID, event.ProviderTxID)
	case "failed":
		reason := event.Reason
		if reason == "" {
			reason = "provider reported failure"
		}
		_, err = c.governor.Fail(ctx, actor, payout.ID, reason)
	case "processing":
		_, err = c.governor.MarkProcessing(ctx, actor, payout.ID)
	default:
		log.Printf("provider-consumer: ignoring unmapped payout status %q for %s", event.Status, event.Reference)
		return nil
	}

	if err != nil {
		var terr *domain.TransitionError
		if errors.As(err, &terr) {
			log.Printf("provider-consumer: stale payout event for %s: %v", event.Reference, err)
			return nil
		}
		return err
	}
	return nil
}

// metadataSequence reads the last applied provider sequence from payment
// metadata. The value is an int64 in memory but a float64 after a jsonb
// round-trip, so both representations are accepted.
func metadataSequence(metadata map[string]interface{}) (int64, bool) {
	raw, ok := metadata[domain.MetaProviderSequence]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func normalizeProviderStatus(status string) string {
	status = strings.TrimSpace(strings.ToLower(status))
	switch status {
	case "successful", "success", "completed", "settled":
		return "completed"
	case "failed", "failure", "declined":
		return "failed"
	case "initiated", "processing", "pending":
		return "processing"
	default:
		return status
	}
}
