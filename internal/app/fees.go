/**
 * @description
 * This file contains the fee calculator: the payout fee schedule and the
 * royalty split used by distribution reporting. Both calculations are pure
 * and deterministic; given the same inputs they always produce the same
 * output, bit for bit.
 *
 * @notes
 * - Amounts are int64 minor units; percentage math truncates toward zero so
 *   1,000,000 at 1.5% is always exactly 15,000.
 */

package app

import (
	"github.com/tunewave/finance-service/internal/domain"
)

// Default royalty rates applied when no configuration overrides them.
const (
	DefaultPlatformRate   = 0.65
	DefaultServiceFeeRate = 0.10
)

// DefaultPlatformRates is the per-platform retention table. A curated store
// retains 70% of gross; a premium boutique retains 85%.
func DefaultPlatformRates() map[string]float64 {
	return map[string]float64{
		"curated_store":    0.70,
		"premium_boutique": 0.85,
	}
}

// FeeCalculator computes payout fees and royalty splits. It holds only
// configuration, no state.
type FeeCalculator struct {
	platformRates   map[string]float64
	defaultPlatform float64
	serviceFeeRate  float64
}

// NewFeeCalculator builds a calculator from the configured rate table.
// Nil or zero values fall back to the defaults above.
func NewFeeCalculator(platformRates map[string]float64, defaultPlatformRate, serviceFeeRate float64) *FeeCalculator {
	if platformRates == nil {
		platformRates = DefaultPlatformRates()
	}
	if defaultPlatformRate <= 0 || defaultPlatformRate >= 1 {
		defaultPlatformRate = DefaultPlatformRate
	}
	if serviceFeeRate <= 0 || serviceFeeRate >= 1 {
		serviceFeeRate = DefaultServiceFeeRate
	}
	return &FeeCalculator{
		platformRates:   platformRates,
		defaultPlatform: defaultPlatformRate,
		serviceFeeRate:  serviceFeeRate,
	}
}

// payoutFeeBasisPoints is the method-specific payout fee schedule, in basis
// points: mobile money 1.5%, bank transfer 0.5%, e-wallet 2%. An unknown
// method carries no fee.
var payoutFeeBasisPoints = map[domain.PayoutMethod]int64{
	domain.PayoutMethodMobileMoney:  150,
	domain.PayoutMethodBankTransfer: 50,
	domain.PayoutMethodEWallet:      200,
}

// PayoutFee returns the fee charged for disbursing amount via method.
func (c *FeeCalculator) PayoutFee(amount int64, method domain.PayoutMethod) int64 {
	bps := payoutFeeBasisPoints[method]
	return amount * bps / 10000
}

// RoyaltyBreakdown is the result of splitting gross distribution revenue.
type RoyaltyBreakdown struct {
	PlatformRate   float64 `json:"platform_rate"`
	PlatformFee    int64   `json:"platform_fee"`
	ServiceFee     int64   `json:"service_fee"`
	ArtistEarnings int64   `json:"artist_earnings"`
}

// RoyaltySplit divides gross revenue from a distribution platform: the
// platform retains its rate of the gross, the service fee is taken from the
// remainder, and the artist earns what is left.
func (c *FeeCalculator) RoyaltySplit(platform string, gross int64) RoyaltyBreakdown {
	rate, ok := c.platformRates[platform]
	if !ok {
		rate = c.defaultPlatform
	}

	platformFee := int64(float64(gross) * rate)
	remainder := gross - platformFee
	serviceFee := int64(float64(remainder) * c.serviceFeeRate)

	return RoyaltyBreakdown{
		PlatformRate:   rate,
		PlatformFee:    platformFee,
		ServiceFee:     serviceFee,
		ArtistEarnings: remainder - serviceFee,
	}
}
