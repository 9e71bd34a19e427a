package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tunewave/finance-service/internal/domain"
)

func newTestLedger(repo *stubRepository, sink *recordingSink) *RevenueLedger {
	return NewRevenueLedger(repo, sink, NewAnomalyDetector(repo), "UGX")
}

func saleRevenueInput(gross, platformFee, distributionFee int64) RecordRevenueInput {
	return RecordRevenueInput{
		ArtistID:        uuid.New(),
		RevenueType:     "sale",
		SourceType:      "payment",
		SourceID:        uuid.New(),
		GrossAmount:     gross,
		PlatformFee:     platformFee,
		DistributionFee: distributionFee,
	}
}

func TestRevenueRecord_ComputesNet(t *testing.T) {
	repo := newStubRepository()
	ledger := newTestLedger(repo, &recordingSink{})

	rev, err := ledger.Record(context.Background(), testActor(), saleRevenueInput(10_000, 3_500, 1_000))
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if rev.NetAmount != 5_500 {
		t.Fatalf("expected net 5500, got %d", rev.NetAmount)
	}
	if rev.Status != domain.RevenueStatusPending {
		t.Fatalf("expected pending, got %q", rev.Status)
	}
	if rev.Currency != "UGX" {
		t.Fatalf("expected domestic currency default, got %q", rev.Currency)
	}

	events := repo.auditEvents()
	if len(events) != 1 || events[0] != "revenue.recorded" {
		t.Fatalf("expected one revenue.recorded audit row, got %v", events)
	}
}

func TestRevenueRecord_HardRejects(t *testing.T) {
	ledger := newTestLedger(newStubRepository(), &recordingSink{})
	ctx := context.Background()

	if _, err := ledger.Record(ctx, testActor(), saleRevenueInput(0, 0, 0)); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero gross, got %v", err)
	}

	in := saleRevenueInput(1000, 0, 0)
	in.SharePercent = 101
	if _, err := ledger.Record(ctx, testActor(), in); !errors.Is(err, domain.ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit for share percent, got %v", err)
	}

	in = saleRevenueInput(1000, 0, 0)
	in.Splits = []domain.RevenueSplit{{PayeeID: uuid.New(), Percent: 0}}
	if _, err := ledger.Record(ctx, testActor(), in); !errors.Is(err, domain.ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit for zero split percent, got %v", err)
	}
}

func TestRevenueRecord_SuppliedNetMismatchAudited(t *testing.T) {
	repo := newStubRepository()
	sink := &recordingSink{}
	ledger := newTestLedger(repo, sink)

	in := saleRevenueInput(10_000, 3_500, 1_000)
	in.ExpectedNet = int64Ptr(5_400) // computed net is 5500
	rev, err := ledger.Record(context.Background(), testActor(), in)
	if err != nil {
		t.Fatalf("mismatch must not block recording: %v", err)
	}
	if rev.NetAmount != 5_500 {
		t.Fatalf("computed net wins, got %d", rev.NetAmount)
	}
	if !sink.hasEvent("revenue.calculation_mismatch") {
		t.Fatal("expected a calculation mismatch finding")
	}
}

func TestRevenueRecord_SuppliedNetWithinToleranceAccepted(t *testing.T) {
	repo := newStubRepository()
	sink := &recordingSink{}
	ledger := newTestLedger(repo, sink)

	in := saleRevenueInput(10_000, 3_500, 1_000)
	in.ExpectedNet = int64Ptr(5_501) // one minor unit off, rounding slack
	if _, err := ledger.Record(context.Background(), testActor(), in); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if sink.hasEvent("revenue.calculation_mismatch") {
		t.Fatal("a one minor unit difference must not be flagged")
	}
}

func TestRevenueRecord_SplitMismatchAudited(t *testing.T) {
	repo := newStubRepository()
	sink := &recordingSink{}
	ledger := newTestLedger(repo, sink)

	in := saleRevenueInput(10_000, 0, 0)
	in.Splits = []domain.RevenueSplit{
		{PayeeID: uuid.New(), Percent: 60},
		{PayeeID: uuid.New(), Percent: 30},
	}
	if _, err := ledger.Record(context.Background(), testActor(), in); err != nil {
		t.Fatalf("split deviation must not block recording: %v", err)
	}
	if !sink.hasEvent("revenue.split_mismatch") {
		t.Fatal("expected a split mismatch finding")
	}
}

func TestRevenueRecord_NegativeNetIsCritical(t *testing.T) {
	repo := newStubRepository()
	sink := &recordingSink{}
	ledger := newTestLedger(repo, sink)

	rev, err := ledger.Record(context.Background(), testActor(), saleRevenueInput(1_000, 900, 200))
	if err != nil {
		t.Fatalf("negative net is persisted, not rejected: %v", err)
	}
	if rev.NetAmount != -100 {
		t.Fatalf("expected net -100, got %d", rev.NetAmount)
	}

	critical := sink.eventsBySeverity(domain.AuditSeverityCritical)
	found := false
	for _, e := range critical {
		if e == "revenue.anomaly.negative_net_amount" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a critical negative net finding, got %v", critical)
	}
}

func TestRevenueRecord_TrailingAverageOutlierAudited(t *testing.T) {
	repo := newStubRepository()
	sink := &recordingSink{}
	ledger := newTestLedger(repo, sink)

	in := saleRevenueInput(20_000, 0, 0)
	repo.seedRevenue(in.ArtistID, "sale", 1_000)
	repo.seedRevenue(in.ArtistID, "sale", 1_000)

	if _, err := ledger.Record(context.Background(), testActor(), in); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !sink.hasEvent("revenue.anomaly.exceeds_trailing_average") {
		t.Fatal("expected a trailing average outlier finding")
	}
}

func TestRevenueRecord_OutlierAverageExcludesOwnRow(t *testing.T) {
	repo := newStubRepository()
	sink := &recordingSink{}
	ledger := newTestLedger(repo, sink)

	// One prior row of 1,000. Averaging the 50,000 accrual into its own
	// baseline would give 25,500 and suppress the flag entirely; against
	// the prior history alone, 50,000 > 10 x 1,000 must fire.
	in := saleRevenueInput(50_000, 0, 0)
	repo.seedRevenue(in.ArtistID, "sale", 1_000)

	if _, err := ledger.Record(context.Background(), testActor(), in); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !sink.hasEvent("revenue.anomaly.exceeds_trailing_average") {
		t.Fatal("the accrual under evaluation must not dilute its own trailing average")
	}
}

func TestRevenueRecord_NoOutlierWithoutHistory(t *testing.T) {
	repo := newStubRepository()
	sink := &recordingSink{}
	ledger := newTestLedger(repo, sink)

	if _, err := ledger.Record(context.Background(), testActor(), saleRevenueInput(20_000, 0, 0)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if sink.hasEvent("revenue.anomaly.exceeds_trailing_average") {
		t.Fatal("an artist with no history must not be flagged as an outlier")
	}
}

func TestRevenueMarkProcessed(t *testing.T) {
	repo := newStubRepository()
	ledger := newTestLedger(repo, &recordingSink{})
	ctx := context.Background()

	rev, err := ledger.Record(ctx, testActor(), saleRevenueInput(10_000, 0, 0))
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	processed, err := ledger.MarkProcessed(ctx, testActor(), rev.ID)
	if err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	if processed.Status != domain.RevenueStatusProcessed {
		t.Fatalf("expected processed, got %q", processed.Status)
	}

	before := len(repo.auditEvents())
	again, err := ledger.MarkProcessed(ctx, testActor(), rev.ID)
	if err != nil {
		t.Fatalf("repeated MarkProcessed should be a no-op, got %v", err)
	}
	if again.Status != domain.RevenueStatusProcessed {
		t.Fatalf("expected processed, got %q", again.Status)
	}
	if after := len(repo.auditEvents()); after != before {
		t.Fatalf("repeat must not add audit rows: %d -> %d", before, after)
	}
}

func TestRevenueMarkPaid_SettlesIntoOnePayout(t *testing.T) {
	repo := newStubRepository()
	ledger := newTestLedger(repo, &recordingSink{})
	ctx := context.Background()

	rev, err := ledger.Record(ctx, testActor(), saleRevenueInput(10_000, 0, 0))
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	payoutID := uuid.New()

	// Paid requires processed first.
	if _, err := ledger.MarkPaid(ctx, testActor(), rev.ID, payoutID); err == nil {
		t.Fatal("expected pending -> paid to be rejected")
	}

	if _, err := ledger.MarkProcessed(ctx, testActor(), rev.ID); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	paid, err := ledger.MarkPaid(ctx, testActor(), rev.ID, payoutID)
	if err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}
	if paid.Status != domain.RevenueStatusPaid {
		t.Fatalf("expected paid, got %q", paid.Status)
	}
	if paid.PayoutID == nil || *paid.PayoutID != payoutID {
		t.Fatalf("expected payout attachment, got %v", paid.PayoutID)
	}

	// Same payout repeats as a no-op; a different payout is rejected.
	if _, err := ledger.MarkPaid(ctx, testActor(), rev.ID, payoutID); err != nil {
		t.Fatalf("repeated MarkPaid with the same payout should be a no-op, got %v", err)
	}
	_, err = ledger.MarkPaid(ctx, testActor(), rev.ID, uuid.New())
	var terr *domain.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError for a second payout, got %v", err)
	}
}
