package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tunewave/finance-service/internal/domain"
)

func newTestConsumer(repo *stubRepository, sink *recordingSink) (*ProviderStatusConsumer, *PaymentLifecycle, *PayoutGovernor) {
	lifecycle := newTestLifecycle(repo, sink)
	governor := newTestGovernor(repo, sink)
	return NewProviderStatusConsumer(repo, lifecycle, governor), lifecycle, governor
}

func paymentEventBody(t *testing.T, reference, status string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.ProviderStatusEvent{
		EventID:      "evt_1",
		EventType:    "payment.status",
		Reference:    reference,
		ProviderTxID: "prov_tx_1",
		Status:       status,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestHandlePaymentMessage_MalformedIsAcked(t *testing.T) {
	consumer, _, _ := newTestConsumer(newStubRepository(), &recordingSink{})

	if !consumer.HandlePaymentMessage([]byte("{not json")) {
		t.Fatal("malformed payloads must be acknowledged, never requeued")
	}
	if !consumer.HandlePaymentMessage([]byte(`{"status":"successful"}`)) {
		t.Fatal("events without a reference must be acknowledged")
	}
}

func TestHandlePaymentMessage_UnknownReferenceIsAcked(t *testing.T) {
	consumer, _, _ := newTestConsumer(newStubRepository(), &recordingSink{})

	if !consumer.HandlePaymentMessage(paymentEventBody(t, "PAY-DOESNOTEXIST", "successful")) {
		t.Fatal("unknown references must be acknowledged")
	}
}

func TestHandlePaymentMessage_SuccessfulCompletesPayment(t *testing.T) {
	repo := newStubRepository()
	consumer, lifecycle, _ := newTestConsumer(repo, &recordingSink{})
	payment := createTestPayment(t, lifecycle, 5000)

	if !consumer.HandlePaymentMessage(paymentEventBody(t, payment.Reference, "successful")) {
		t.Fatal("expected ack on successful processing")
	}

	updated, err := repo.FindPaymentByID(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if updated.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %q", updated.Status)
	}
}

func TestHandlePaymentMessage_FailureRecordsReason(t *testing.T) {
	repo := newStubRepository()
	consumer, lifecycle, _ := newTestConsumer(repo, &recordingSink{})
	payment := createTestPayment(t, lifecycle, 5000)

	body, err := json.Marshal(domain.ProviderStatusEvent{
		EventID:   "evt_2",
		Reference: payment.Reference,
		Status:    "declined",
		Reason:    "insufficient funds",
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if !consumer.HandlePaymentMessage(body) {
		t.Fatal("expected ack")
	}

	updated, err := repo.FindPaymentByID(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if updated.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed, got %q", updated.Status)
	}
	if updated.FailureReason == nil || *updated.FailureReason != "insufficient funds" {
		t.Fatalf("expected failure reason recorded, got %v", updated.FailureReason)
	}
}

func TestHandlePaymentMessage_StaleReplayIsAcked(t *testing.T) {
	repo := newStubRepository()
	consumer, lifecycle, _ := newTestConsumer(repo, &recordingSink{})
	payment := createTestPayment(t, lifecycle, 5000)

	if _, err := lifecycle.Fail(context.Background(), testActor(), payment.ID, "declined"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	// A late "successful" for a payment already failed is a replay or
	// out-of-order delivery; it must not cycle in the queue.
	if !consumer.HandlePaymentMessage(paymentEventBody(t, payment.Reference, "successful")) {
		t.Fatal("stale events must be acknowledged")
	}
}

func TestHandlePaymentMessage_UnmappedStatusIsAcked(t *testing.T) {
	repo := newStubRepository()
	consumer, lifecycle, _ := newTestConsumer(repo, &recordingSink{})
	payment := createTestPayment(t, lifecycle, 5000)

	if !consumer.HandlePaymentMessage(paymentEventBody(t, payment.Reference, "reversed")) {
		t.Fatal("unmapped statuses must be acknowledged")
	}
	updated, err := repo.FindPaymentByID(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if updated.Status != domain.PaymentStatusPending {
		t.Fatalf("unmapped status must not move the payment, got %q", updated.Status)
	}
}

func TestHandlePaymentMessage_SequenceGuardsOutOfOrderDelivery(t *testing.T) {
	repo := newStubRepository()
	consumer, lifecycle, _ := newTestConsumer(repo, &recordingSink{})
	payment := createTestPayment(t, lifecycle, 5000)
	ctx := context.Background()

	sequenced := func(status string, seq int64) []byte {
		body, err := json.Marshal(domain.ProviderStatusEvent{
			EventID:   "evt_seq",
			Reference: payment.Reference,
			Status:    status,
			Sequence:  seq,
		})
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		return body
	}

	if !consumer.HandlePaymentMessage(sequenced("processing", 5)) {
		t.Fatal("expected ack for sequence 5")
	}
	updated, err := repo.FindPaymentByID(ctx, payment.ID)
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if updated.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected processing, got %q", updated.Status)
	}

	// A "failed" carrying an older sequence arrived late; it must be
	// acknowledged without moving the payment.
	if !consumer.HandlePaymentMessage(sequenced("failed", 3)) {
		t.Fatal("out-of-order events must be acknowledged")
	}
	updated, err = repo.FindPaymentByID(ctx, payment.ID)
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if updated.Status != domain.PaymentStatusProcessing {
		t.Fatalf("stale sequence must not move the payment, got %q", updated.Status)
	}

	// Newer sequences still apply.
	if !consumer.HandlePaymentMessage(sequenced("successful", 6)) {
		t.Fatal("expected ack for sequence 6")
	}
	updated, err = repo.FindPaymentByID(ctx, payment.ID)
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if updated.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %q", updated.Status)
	}
}

func TestMetadataSequence(t *testing.T) {
	if _, ok := metadataSequence(nil); ok {
		t.Fatal("missing metadata must report no sequence")
	}
	// jsonb round-trips numbers back as float64.
	if got, ok := metadataSequence(map[string]interface{}{domain.MetaProviderSequence: float64(7)}); !ok || got != 7 {
		t.Fatalf("expected 7 from float64, got %d ok=%v", got, ok)
	}
	if got, ok := metadataSequence(map[string]interface{}{domain.MetaProviderSequence: int64(9)}); !ok || got != 9 {
		t.Fatalf("expected 9 from int64, got %d ok=%v", got, ok)
	}
	if _, ok := metadataSequence(map[string]interface{}{domain.MetaProviderSequence: "nope"}); ok {
		t.Fatal("non-numeric values must be ignored")
	}
}

func TestHandlePayoutMessage_CompletedSettles(t *testing.T) {
	repo := newStubRepository()
	sink := &recordingSink{}
	consumer, _, governor := newTestConsumer(repo, sink)
	ctx := context.Background()
	payout := createTestPayout(t, governor, 1000)

	if _, err := governor.Approve(ctx, testActor(), payout.ID, "admin_42"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := governor.MarkProcessing(ctx, testActor(), payout.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}

	body, err := json.Marshal(domain.ProviderStatusEvent{
		EventID:      "evt_3",
		EventType:    "payout.status",
		Reference:    payout.TransactionRef,
		ProviderTxID: "prov_tx_9",
		Status:       "settled",
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if !consumer.HandlePayoutMessage(body) {
		t.Fatal("expected ack")
	}

	updated, err := repo.FindArtistPayoutByID(ctx, payout.ID)
	if err != nil {
		t.Fatalf("find payout: %v", err)
	}
	if updated.Status != domain.PayoutStatusCompleted {
		t.Fatalf("expected completed, got %q", updated.Status)
	}
	if updated.ProviderTxID == nil || *updated.ProviderTxID != "prov_tx_9" {
		t.Fatalf("expected provider tx id recorded, got %v", updated.ProviderTxID)
	}
	if repo.settled != 1 {
		t.Fatalf("expected revenue settled once, got %d", repo.settled)
	}

	// Redelivery of the same settlement is idempotent.
	if !consumer.HandlePayoutMessage(body) {
		t.Fatal("redelivered settlement must be acknowledged")
	}
	if repo.settled != 1 {
		t.Fatalf("redelivery must not re-settle, got %d", repo.settled)
	}
}

func TestHandlePayoutMessage_FailureDefaultsReason(t *testing.T) {
	repo := newStubRepository()
	consumer, _, governor := newTestConsumer(repo, &recordingSink{})
	ctx := context.Background()
	payout := createTestPayout(t, governor, 1000)

	if _, err := governor.Approve(ctx, testActor(), payout.ID, "admin_42"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := governor.MarkProcessing(ctx, testActor(), payout.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}

	body, err := json.Marshal(domain.ProviderStatusEvent{
		EventID:   "evt_4",
		Reference: payout.TransactionRef,
		Status:    "failed",
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if !consumer.HandlePayoutMessage(body) {
		t.Fatal("expected ack")
	}

	updated, err := repo.FindArtistPayoutByID(ctx, payout.ID)
	if err != nil {
		t.Fatalf("find payout: %v", err)
	}
	if updated.Status != domain.PayoutStatusFailed {
		t.Fatalf("expected failed, got %q", updated.Status)
	}
	if updated.FailureReason == nil || *updated.FailureReason != "provider reported failure" {
		t.Fatalf("expected the default failure reason, got %v", updated.FailureReason)
	}
}

func TestNormalizeProviderStatus(t *testing.T) {
	cases := map[string]string{
		"SUCCESSFUL": "completed",
		"success":    "completed",
		"settled":    "completed",
		" Failed ":   "failed",
		"declined":   "failed",
		"initiated":  "processing",
		"pending":    "processing",
		"reversed":   "reversed",
	}
	for in, want := range cases {
		if got := normalizeProviderStatus(in); got != want {
			t.Errorf("normalizeProviderStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
