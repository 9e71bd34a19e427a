package app

import (
	"testing"

	"github.com/tunewave/finance-service/internal/domain"
)

func TestPayoutFee_ScheduleByMethod(t *testing.T) {
	calc := NewFeeCalculator(nil, 0, 0)

	cases := []struct {
		name   string
		amount int64
		method domain.PayoutMethod
		want   int64
	}{
		{"mobile money 1.5%", 1_000_000, domain.PayoutMethodMobileMoney, 15_000},
		{"bank transfer 0.5%", 1_000_000, domain.PayoutMethodBankTransfer, 5_000},
		{"ewallet 2%", 1_000_000, domain.PayoutMethodEWallet, 20_000},
		{"unknown method no fee", 1_000_000, domain.PayoutMethod("carrier_pigeon"), 0},
		{"truncates toward zero", 999, domain.PayoutMethodMobileMoney, 14},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := calc.PayoutFee(tc.amount, tc.method); got != tc.want {
				t.Fatalf("PayoutFee(%d, %s) = %d, want %d", tc.amount, tc.method, got, tc.want)
			}
		})
	}
}

func TestPayoutFee_Deterministic(t *testing.T) {
	calc := NewFeeCalculator(nil, 0, 0)
	first := calc.PayoutFee(123_457, domain.PayoutMethodEWallet)
	for i := 0; i < 100; i++ {
		if got := calc.PayoutFee(123_457, domain.PayoutMethodEWallet); got != first {
			t.Fatalf("fee calculation is not deterministic: %d vs %d", got, first)
		}
	}
}

func TestRoyaltySplit_KnownPlatformRates(t *testing.T) {
	calc := NewFeeCalculator(nil, 0, 0)

	got := calc.RoyaltySplit("premium_boutique", 1_000_000)
	if got.PlatformRate != 0.85 {
		t.Fatalf("expected premium_boutique rate 0.85, got %f", got.PlatformRate)
	}
	if got.PlatformFee != 850_000 {
		t.Fatalf("expected platform fee 850000, got %d", got.PlatformFee)
	}
	if got.ServiceFee != 15_000 {
		t.Fatalf("expected service fee 15000, got %d", got.ServiceFee)
	}
	if got.ArtistEarnings != 135_000 {
		t.Fatalf("expected artist earnings 135000, got %d", got.ArtistEarnings)
	}
	if got.PlatformFee+got.ServiceFee+got.ArtistEarnings != 1_000_000 {
		t.Fatal("split does not sum back to gross")
	}
}

func TestRoyaltySplit_UnknownPlatformUsesDefault(t *testing.T) {
	calc := NewFeeCalculator(nil, 0, 0)

	got := calc.RoyaltySplit("unknown_store", 1000)
	if got.PlatformRate != DefaultPlatformRate {
		t.Fatalf("expected default rate %f, got %f", DefaultPlatformRate, got.PlatformRate)
	}
	// 1000 gross: platform retains 650, service fee is 10% of the 350
	// remainder (35), the artist earns 315.
	if got.PlatformFee != 650 || got.ServiceFee != 35 || got.ArtistEarnings != 315 {
		t.Fatalf("unexpected default split: %+v", got)
	}
}

func TestRoyaltySplit_ConfiguredOverrides(t *testing.T) {
	calc := NewFeeCalculator(map[string]float64{"direct": 0.29}, 0.5, 0.10)

	got := calc.RoyaltySplit("direct", 1000)
	if got.PlatformFee != 290 {
		t.Fatalf("expected platform fee 290, got %d", got.PlatformFee)
	}
	if got.ServiceFee != 71 {
		t.Fatalf("expected service fee 71, got %d", got.ServiceFee)
	}
	if got.ArtistEarnings != 639 {
		t.Fatalf("expected artist earnings 639, got %d", got.ArtistEarnings)
	}
}
