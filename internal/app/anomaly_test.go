package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tunewave/finance-service/internal/domain"
)

func TestCheckRevenue_NegativeNet(t *testing.T) {
	d := NewAnomalyDetector(newStubRepository())

	flags, err := d.CheckRevenue(context.Background(), uuid.New(), "sale", -50, uuid.New())
	if err != nil {
		t.Fatalf("CheckRevenue failed: %v", err)
	}
	if len(flags) != 1 {
		t.Fatalf("expected one flag, got %v", flags)
	}
	if flags[0].Key != "negative_net_amount" || flags[0].Severity != "integrity" {
		t.Fatalf("expected integrity flag, got %+v", flags[0])
	}
}

func TestCheckRevenue_TrailingAverageOutlier(t *testing.T) {
	repo := newStubRepository()
	d := NewAnomalyDetector(repo)
	ctx := context.Background()
	artistID := uuid.New()
	repo.seedRevenue(artistID, "sale", 1_000)
	repo.seedRevenue(artistID, "sale", 1_000)

	flags, err := d.CheckRevenue(ctx, artistID, "sale", 10_001, uuid.New())
	if err != nil {
		t.Fatalf("CheckRevenue failed: %v", err)
	}
	if len(flags) != 1 || flags[0].Key != "exceeds_trailing_average" {
		t.Fatalf("expected outlier flag above 10x average, got %v", flags)
	}

	flags, err = d.CheckRevenue(ctx, artistID, "sale", 10_000, uuid.New())
	if err != nil {
		t.Fatalf("CheckRevenue failed: %v", err)
	}
	if len(flags) != 0 {
		t.Fatalf("exactly 10x average must not be flagged, got %v", flags)
	}
}

func TestCheckRevenue_ExcludesRowUnderEvaluation(t *testing.T) {
	repo := newStubRepository()
	d := NewAnomalyDetector(repo)
	artistID := uuid.New()
	repo.seedRevenue(artistID, "sale", 1_000)

	// Persist the large accrual first, as the ledger does, then evaluate
	// it: the average must come from the one prior row only.
	big := uuid.New()
	repo.mu.Lock()
	repo.revenues[big] = &domain.ArtistRevenue{
		ID:          big,
		ArtistID:    artistID,
		RevenueType: "sale",
		GrossAmount: 50_000,
		NetAmount:   50_000,
		Currency:    "UGX",
		Status:      domain.RevenueStatusPending,
		AccruedAt:   time.Now().UTC(),
	}
	repo.mu.Unlock()

	flags, err := d.CheckRevenue(context.Background(), artistID, "sale", 50_000, big)
	if err != nil {
		t.Fatalf("CheckRevenue failed: %v", err)
	}
	if len(flags) != 1 || flags[0].Key != "exceeds_trailing_average" {
		t.Fatalf("expected outlier flag against prior history only, got %v", flags)
	}
}

func TestCheckRevenue_NoHistoryNoOutlier(t *testing.T) {
	d := NewAnomalyDetector(newStubRepository())

	flags, err := d.CheckRevenue(context.Background(), uuid.New(), "sale", 1_000_000_000, uuid.New())
	if err != nil {
		t.Fatalf("CheckRevenue failed: %v", err)
	}
	if len(flags) != 0 {
		t.Fatalf("an artist with no samples must not be flagged, got %v", flags)
	}
}

func TestCheckPayoutVelocity(t *testing.T) {
	repo := newStubRepository()
	d := NewAnomalyDetector(repo)
	ctx := context.Background()

	repo.recentPayouts = PayoutVelocityLimit - 1
	flag, err := d.CheckPayoutVelocity(ctx, uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("CheckPayoutVelocity failed: %v", err)
	}
	if flag != nil {
		t.Fatalf("below the limit must not be flagged, got %+v", flag)
	}

	repo.recentPayouts = PayoutVelocityLimit
	flag, err = d.CheckPayoutVelocity(ctx, uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("CheckPayoutVelocity failed: %v", err)
	}
	if flag == nil || flag.Key != "multiple_requests" {
		t.Fatalf("expected multiple_requests flag, got %+v", flag)
	}
}

func TestCheckPayoutMagnitude(t *testing.T) {
	repo := newStubRepository()
	repo.avgPayout = 50_000
	repo.avgPayoutSamples = 4
	d := NewAnomalyDetector(repo)
	ctx := context.Background()

	flag, err := d.CheckPayoutMagnitude(ctx, uuid.New(), 250_000)
	if err != nil {
		t.Fatalf("CheckPayoutMagnitude failed: %v", err)
	}
	if flag != nil {
		t.Fatalf("exactly 5x average must not be flagged, got %+v", flag)
	}

	flag, err = d.CheckPayoutMagnitude(ctx, uuid.New(), 250_001)
	if err != nil {
		t.Fatalf("CheckPayoutMagnitude failed: %v", err)
	}
	if flag == nil || flag.Key != "amount_above_average" {
		t.Fatalf("expected amount_above_average flag, got %+v", flag)
	}

	repo.avgPayoutSamples = 0
	flag, err = d.CheckPayoutMagnitude(ctx, uuid.New(), 10_000_000)
	if err != nil {
		t.Fatalf("CheckPayoutMagnitude failed: %v", err)
	}
	if flag != nil {
		t.Fatalf("no completed payout history must not be flagged, got %+v", flag)
	}
}
