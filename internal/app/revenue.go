/**
 * @description
 * This file contains the artist revenue ledger: validation and recording of
 * revenue accruals, and the monotonic pending -> processed -> paid status
 * advance. Calculation and split findings on otherwise well-formed input are
 * audited rather than rejected, because historical data may be imperfect;
 * they are a monitoring signal.
 *
 * @dependencies
 * - context, errors, fmt, math, time: Standard Go libraries.
 * - github.com/google/uuid: For ID generation.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tunewave/finance-service/internal/domain"
	"github.com/tunewave/finance-service/internal/store"
)

// RevenueLedger validates and records revenue entries attributable to an
// artist.
type RevenueLedger struct {
	repo     store.Repository
	sink     AuditSink
	detector *AnomalyDetector
	domestic string
	now      func() time.Time
}

// NewRevenueLedger creates the ledger.
func NewRevenueLedger(repo store.Repository, sink AuditSink, detector *AnomalyDetector, domesticCurrency string) *RevenueLedger {
	return &RevenueLedger{
		repo:     repo,
		sink:     sink,
		detector: detector,
		domestic: strings.ToUpper(strings.TrimSpace(domesticCurrency)),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RecordRevenueInput is the input for recording one revenue accrual.
type RecordRevenueInput struct {
	ArtistID        uuid.UUID
	RevenueType     string
	SourceType      string
	SourceID        uuid.UUID
	GrossAmount     int64
	PlatformFee     int64
	DistributionFee int64
	// ExpectedNet, when supplied by the reporting collaborator, is
	// cross-checked against the computed net amount.
	ExpectedNet  *int64
	Currency     string // defaults to the domestic currency
	SharePercent float64
	Splits       []domain.RevenueSplit
	AccruedAt    time.Time
}

// Record computes net = gross - platform fee - distribution fee, validates
// the invariants, and persists the row in pending status. Malformed input is
// rejected; calculation mismatches, split-sum deviations, and negative nets
// are persisted and audited per severity.
func (rl *RevenueLedger) Record(ctx context.Context, actor domain.ActorContext, in RecordRevenueInput) (*domain.ArtistRevenue, error) {
	if in.GrossAmount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if in.SharePercent < 0 || in.SharePercent > 100 {
		return nil, fmt.Errorf("%w: share percent %.2f out of range", domain.ErrInvalidSplit, in.SharePercent)
	}
	for _, split := range in.Splits {
		if split.Percent <= 0 || split.Percent > 100 {
			return nil, fmt.Errorf("%w: payee %s has percent %.2f", domain.ErrInvalidSplit, split.PayeeID, split.Percent)
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = rl.domestic
	}

	net := in.GrossAmount - in.PlatformFee - in.DistributionFee
	accrued := in.AccruedAt
	if accrued.IsZero() {
		accrued = rl.now()
	}

	rev := &domain.ArtistRevenue{
		ID:              uuid.New(),
		ArtistID:        in.ArtistID,
		RevenueType:     in.RevenueType,
		SourceType:      in.SourceType,
		SourceID:        in.SourceID,
		GrossAmount:     in.GrossAmount,
		PlatformFee:     in.PlatformFee,
		DistributionFee: in.DistributionFee,
		NetAmount:       net,
		Currency:        currency,
		SharePercent:    in.SharePercent,
		Splits:          in.Splits,
		Status:          domain.RevenueStatusPending,
		AccruedAt:       accrued,
	}

	audit := auditStatusChange(
		domain.AuditCategoryRevenue, "revenue.recorded",
		fmt.Sprintf("revenue of %d %s (%s) recorded for artist %s", net, currency, in.RevenueType, in.ArtistID),
		actor, "artist_revenue", rev.ID.String(), domain.AuditSeverityInfo,
		"", string(domain.RevenueStatusPending),
		map[string]interface{}{"gross": in.GrossAmount, "platform_fee": in.PlatformFee, "distribution_fee": in.DistributionFee, "net": net},
	)
	if err := rl.repo.CreateArtistRevenue(ctx, rev, audit); err != nil {
		return nil, fmt.Errorf("failed to record artist revenue: %w", err)
	}

	rl.auditFindings(ctx, actor, rev, in.ExpectedNet)
	return rev, nil
}

// auditFindings records, without blocking, the integrity findings on a
// persisted revenue row: supplied-net mismatch, split-sum deviation,
// negative net, and anomaly flags.
func (rl *RevenueLedger) auditFindings(ctx context.Context, actor domain.ActorContext, rev *domain.ArtistRevenue, expectedNet *int64) {
	if expectedNet != nil {
		if diff := *expectedNet - rev.NetAmount; diff > domain.NetAmountToleranceMinorUnits || diff < -domain.NetAmountToleranceMinorUnits {
			rl.recordFinding(ctx, actor, rev, domain.AuditSeverityWarning, "revenue.calculation_mismatch",
				fmt.Sprintf("supplied net %d differs from computed net %d: %v", *expectedNet, rev.NetAmount, domain.ErrCalculationMismatch))
		}
	}

	if !domain.SplitsSumToFull(rev.Splits) {
		var sum float64
		for _, s := range rev.Splits {
			sum += s.Percent
		}
		rl.recordFinding(ctx, actor, rev, domain.AuditSeverityWarning, "revenue.split_mismatch",
			fmt.Sprintf("split percentages sum to %.2f: %v", math.Round(sum*100)/100, domain.ErrSplitMismatch))
	}

	flags, err := rl.detector.CheckRevenue(ctx, rev.ArtistID, rev.RevenueType, rev.NetAmount, rev.ID)
	if err != nil {
		// The detector only annotates; an aggregation failure is logged via
		// the sink's local logging path, not surfaced to the caller.
		rl.recordFinding(ctx, actor, rev, domain.AuditSeverityNotice, "revenue.anomaly_check_failed", err.Error())
	}
	for _, flag := range flags {
		severity := domain.AuditSeverityWarning
		event := "revenue.anomaly." + flag.Key
		if flag.Severity == "integrity" {
			severity = domain.AuditSeverityCritical
		}
		rl.recordFinding(ctx, actor, rev, severity, event, flag.Narrative)
	}
}

func (rl *RevenueLedger) recordFinding(ctx context.Context, actor domain.ActorContext, rev *domain.ArtistRevenue, severity domain.AuditSeverity, event, narrative string) {
	rl.sink.Record(ctx, domain.AuditRecord{
		Category:   domain.AuditCategoryRevenue,
		Event:      event,
		Narrative:  narrative,
		Actor:      actor,
		TargetType: "artist_revenue",
		TargetID:   rev.ID.String(),
		Severity:   severity,
		Metadata:   map[string]interface{}{"artist_id": rev.ArtistID.String(), "revenue_type": rev.RevenueType, "net_amount": rev.NetAmount},
	})
}

// MarkProcessed advances a pending row to processed. Calling it again on an
// already-processed row is a no-op.
func (rl *RevenueLedger) MarkProcessed(ctx context.Context, actor domain.ActorContext, revenueID uuid.UUID) (*domain.ArtistRevenue, error) {
	rev, err := rl.repo.FindArtistRevenueByID(ctx, revenueID)
	if err != nil {
		return nil, err
	}
	if rev.Status == domain.RevenueStatusProcessed {
		return rev, nil
	}
	if rev.Status != domain.RevenueStatusPending {
		return nil, &domain.TransitionError{Entity: "artist_revenue", From: string(rev.Status), To: string(domain.RevenueStatusProcessed)}
	}

	audit := auditStatusChange(
		domain.AuditCategoryRevenue, "revenue.processed",
		fmt.Sprintf("revenue %s swept into the payout-eligible balance", rev.ID),
		actor, "artist_revenue", rev.ID.String(), domain.AuditSeverityInfo,
		string(domain.RevenueStatusPending), string(domain.RevenueStatusProcessed), nil,
	)
	err = rl.repo.AdvanceRevenueStatus(ctx, rev.ID, domain.RevenueStatusPending, domain.RevenueStatusProcessed, nil, audit)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return rl.resolveAdvanceConflict(ctx, revenueID, domain.RevenueStatusProcessed, nil)
		}
		return nil, fmt.Errorf("failed to mark revenue processed: %w", err)
	}
	return rl.repo.FindArtistRevenueByID(ctx, revenueID)
}

// MarkPaid advances a processed row to paid, attaching it to the payout that
// settled it. A row settles into at most one payout: repeating the call with
// the same payout is a no-op; a different payout is rejected.
func (rl *RevenueLedger) MarkPaid(ctx context.Context, actor domain.ActorContext, revenueID, payoutID uuid.UUID) (*domain.ArtistRevenue, error) {
	rev, err := rl.repo.FindArtistRevenueByID(ctx, revenueID)
	if err != nil {
		return nil, err
	}
	if rev.Status == domain.RevenueStatusPaid {
		if rev.PayoutID != nil && *rev.PayoutID == payoutID {
			return rev, nil
		}
		return nil, &domain.TransitionError{Entity: "artist_revenue", From: string(rev.Status), To: string(domain.RevenueStatusPaid)}
	}
	if rev.Status != domain.RevenueStatusProcessed {
		return nil, &domain.TransitionError{Entity: "artist_revenue", From: string(rev.Status), To: string(domain.RevenueStatusPaid)}
	}
	if rev.PayoutID != nil && *rev.PayoutID != payoutID {
		return nil, &domain.TransitionError{Entity: "artist_revenue", From: string(rev.Status), To: string(domain.RevenueStatusPaid)}
	}

	audit := auditStatusChange(
		domain.AuditCategoryRevenue, "revenue.paid",
		fmt.Sprintf("revenue %s settled by payout %s", rev.ID, payoutID),
		actor, "artist_revenue", rev.ID.String(), domain.AuditSeverityInfo,
		string(domain.RevenueStatusProcessed), string(domain.RevenueStatusPaid),
		map[string]interface{}{"payout_id": payoutID.String()},
	)
	err = rl.repo.AdvanceRevenueStatus(ctx, rev.ID, domain.RevenueStatusProcessed, domain.RevenueStatusPaid, &payoutID, audit)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return rl.resolveAdvanceConflict(ctx, revenueID, domain.RevenueStatusPaid, &payoutID)
		}
		return nil, fmt.Errorf("failed to mark revenue paid: %w", err)
	}
	return rl.repo.FindArtistRevenueByID(ctx, revenueID)
}

// resolveAdvanceConflict re-reads after a lost compare-and-swap. A repeat of
// the same advance is a no-op; anything else is rejected.
func (rl *RevenueLedger) resolveAdvanceConflict(ctx context.Context, revenueID uuid.UUID, wanted domain.RevenueStatus, payoutID *uuid.UUID) (*domain.ArtistRevenue, error) {
	current, err := rl.repo.FindArtistRevenueByID(ctx, revenueID)
	if err != nil {
		return nil, err
	}
	if current.Status == wanted {
		if payoutID == nil || (current.PayoutID != nil && *current.PayoutID == *payoutID) {
			return current, nil
		}
	}
	return nil, &domain.TransitionError{Entity: "artist_revenue", From: string(current.Status), To: string(wanted)}
}
