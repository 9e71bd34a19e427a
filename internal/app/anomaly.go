/**
 * @description
 * This file contains the anomaly detector: read-only heuristics over recent
 * transaction history that flag unusual revenue accruals and payout
 * requests. Flags annotate the operation that asked for them; they never
 * block it.
 *
 * @notes
 * - Statistics are derived by aggregation over the historical rows at
 *   evaluation time. No mutable counters are kept anywhere, so the flags
 *   cannot drift out of sync with the underlying data.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tunewave/finance-service/internal/domain"
	"github.com/tunewave/finance-service/internal/store"
)

const (
	// RevenueOutlierMultiplier flags a revenue accrual whose net exceeds
	// this multiple of the artist's trailing average for the same type.
	RevenueOutlierMultiplier = 10
	// PayoutMagnitudeMultiplier flags a payout request above this multiple
	// of the artist's historical average completed payout.
	PayoutMagnitudeMultiplier = 5
	// PayoutVelocityWindow is the trailing window for the velocity check.
	PayoutVelocityWindow = 24 * time.Hour
	// PayoutVelocityLimit is how many other requests inside the window
	// trigger the multiple-requests flag.
	PayoutVelocityLimit = 3
	// revenueTrailingWindow bounds the trailing-average aggregation.
	revenueTrailingWindow = 90 * 24 * time.Hour
)

// AnomalyFlag is one non-blocking risk annotation.
type AnomalyFlag struct {
	Key       string
	Severity  string // 'warning' or 'integrity'
	Narrative string
}

// AnomalyDetector inspects recent history for a subject and returns risk
// flags. It holds no state of its own.
type AnomalyDetector struct {
	repo store.Repository
	now  func() time.Time
}

// NewAnomalyDetector creates a detector over the given repository.
func NewAnomalyDetector(repo store.Repository) *AnomalyDetector {
	return &AnomalyDetector{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// CheckRevenue evaluates a revenue accrual. A negative net amount is an
// integrity alarm; a net above ten times the artist's trailing average for
// the same revenue type is a warning. exclude is the row being evaluated,
// so an already-persisted row never dilutes its own average.
func (d *AnomalyDetector) CheckRevenue(ctx context.Context, artistID uuid.UUID, revenueType string, netAmount int64, exclude uuid.UUID) ([]AnomalyFlag, error) {
	var flags []AnomalyFlag

	if netAmount < 0 {
		flags = append(flags, AnomalyFlag{
			Key:       "negative_net_amount",
			Severity:  "integrity",
			Narrative: fmt.Sprintf("net amount %d: %v", netAmount, domain.ErrNegativeNetAmount),
		})
	}

	avg, samples, err := d.repo.TrailingAverageRevenueNet(ctx, artistID, revenueType, d.now().Add(-revenueTrailingWindow), exclude)
	if err != nil {
		return flags, fmt.Errorf("failed to aggregate trailing revenue average: %w", err)
	}
	if samples > 0 && avg > 0 && netAmount > avg*RevenueOutlierMultiplier {
		flags = append(flags, AnomalyFlag{
			Key:       "exceeds_trailing_average",
			Severity:  "warning",
			Narrative: fmt.Sprintf("net amount %d exceeds %dx trailing average %d over %d samples", netAmount, RevenueOutlierMultiplier, avg, samples),
		})
	}
	return flags, nil
}

// CheckPayoutVelocity flags an artist who has already created three or more
// payout requests in the trailing 24 hours. exclude is the request being
// evaluated, so the check never counts itself or re-triggers recursively.
func (d *AnomalyDetector) CheckPayoutVelocity(ctx context.Context, artistID uuid.UUID, exclude uuid.UUID) (*AnomalyFlag, error) {
	count, err := d.repo.CountPayoutRequestsSince(ctx, artistID, d.now().Add(-PayoutVelocityWindow), exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent payout requests: %w", err)
	}
	if count >= PayoutVelocityLimit {
		return &AnomalyFlag{
			Key:       "multiple_requests",
			Severity:  "warning",
			Narrative: fmt.Sprintf("artist created %d other payout requests in the last 24h", count),
		}, nil
	}
	return nil, nil
}

// CheckPayoutMagnitude flags a payout request that exceeds five times the
// artist's historical average completed payout. Informational only.
func (d *AnomalyDetector) CheckPayoutMagnitude(ctx context.Context, artistID uuid.UUID, amount int64) (*AnomalyFlag, error) {
	avg, samples, err := d.repo.AverageCompletedPayoutAmount(ctx, artistID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate completed payout average: %w", err)
	}
	if samples > 0 && avg > 0 && amount > avg*PayoutMagnitudeMultiplier {
		return &AnomalyFlag{
			Key:       "amount_above_average",
			Severity:  "warning",
			Narrative: fmt.Sprintf("requested amount %d exceeds %dx historical average %d over %d completed payouts", amount, PayoutMagnitudeMultiplier, avg, samples),
		}, nil
	}
	return nil, nil
}
