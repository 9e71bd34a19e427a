/**
 * @description
 * This file defines the ArtistRevenue entity: a single accrual of earnings
 * for an artist from some source (a play, a sale, a licensing event). The
 * revenue ledger in internal/app validates the calculation and split
 * invariants before a row is persisted.
 *
 * @notes
 * - net = gross - platform fee - distribution fee, within one minor unit.
 * - Split percentages must sum to 100 within a 0.01 tolerance.
 * - A revenue row settles into at most one payout.
 */

package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// RevenueStatus enumerates the lifecycle states of an ArtistRevenue row.
type RevenueStatus string

const (
	RevenueStatusPending   RevenueStatus = "pending"
	RevenueStatusProcessed RevenueStatus = "processed"
	RevenueStatusPaid      RevenueStatus = "paid"
)

// revenueRank orders revenue statuses for the monotonic-advance rule.
var revenueRank = map[RevenueStatus]int{
	RevenueStatusPending:   0,
	RevenueStatusProcessed: 1,
	RevenueStatusPaid:      2,
}

// CanTransitionTo reports whether the status may advance from s to next.
// Advancing to the current state is permitted so repeated calls are no-ops.
func (s RevenueStatus) CanTransitionTo(next RevenueStatus) bool {
	sr, ok1 := revenueRank[s]
	nr, ok2 := revenueRank[next]
	return ok1 && ok2 && nr >= sr
}

// SplitSumTolerance is the allowed deviation, in percentage points, of a
// split set from 100%.
const SplitSumTolerance = 0.01

// NetAmountToleranceMinorUnits is the allowed deviation, in minor currency
// units, between a supplied net amount and the computed one (0.01 currency
// units).
const NetAmountToleranceMinorUnits = 1

// RevenueSplit is a percentage-based share of one revenue event assigned to
// a payee (e.g., a featured artist).
type RevenueSplit struct {
	PayeeID uuid.UUID `json:"payee_id"`
	Percent float64   `json:"percent"`
}

// SplitsSumToFull reports whether the split percentages sum to 100 within
// tolerance. An empty split list is valid (no split recorded).
func SplitsSumToFull(splits []RevenueSplit) bool {
	if len(splits) == 0 {
		return true
	}
	var sum float64
	for _, s := range splits {
		sum += s.Percent
	}
	return math.Abs(sum-100) <= SplitSumTolerance
}

// ArtistRevenue represents one accrual of earnings attributable to an
// artist. This struct maps directly to the `artist_revenues` table.
type ArtistRevenue struct {
	ID              uuid.UUID      `json:"id"`
	ArtistID        uuid.UUID      `json:"artist_id"`
	RevenueType     string         `json:"revenue_type"` // e.g. 'play', 'sale', 'licensing'
	SourceType      string         `json:"source_type"`  // polymorphic pointer to the originating event
	SourceID        uuid.UUID      `json:"source_id"`
	GrossAmount     int64          `json:"gross_amount"` // in minor units
	PlatformFee     int64          `json:"platform_fee"`
	DistributionFee int64          `json:"distribution_fee"`
	NetAmount       int64          `json:"net_amount"`
	Currency        string         `json:"currency"`
	SharePercent    float64        `json:"share_percent"` // artist share, [0,100]
	Splits          []RevenueSplit `json:"splits,omitempty"`
	Status          RevenueStatus  `json:"status"`
	PayoutID        *uuid.UUID     `json:"payout_id,omitempty"` // set once paid
	AccruedAt       time.Time      `json:"accrued_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
