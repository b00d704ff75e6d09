package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTierFor_Boundaries(t *testing.T) {
	tests := []struct {
		points int64
		want   Tier
	}{
		{0, TierStandard},
		{999, TierStandard},
		{1000, TierBronze},
		{4999, TierBronze},
		{5000, TierSilver},
		{14999, TierSilver},
		{15000, TierGold},
		{49999, TierGold},
		{50000, TierElite},
		{1_000_000, TierElite},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.points), "points=%d", tt.points)
	}
}

func TestTierFor_Monotonic(t *testing.T) {
	rank := map[Tier]int{TierStandard: 0, TierBronze: 1, TierSilver: 2, TierGold: 3, TierElite: 4}
	prev := rank[TierFor(0)]
	for p := int64(1); p <= 60000; p += 7 {
		cur := rank[TierFor(p)]
		if cur < prev {
			t.Fatalf("tier decreased at %d points", p)
		}
		prev = cur
	}
}

func TestDiscountFor(t *testing.T) {
	assert.True(t, DiscountFor(0).Equal(decimal.Zero))
	assert.Equal(t, "0.05", DiscountFor(1000).StringFixed(2))
	assert.Equal(t, "0.1", DiscountFor(5000).String())
	assert.Equal(t, "0.15", DiscountFor(15000).String())
	assert.Equal(t, "0.2", DiscountFor(50000).String())
}

func TestLoyaltyFor(t *testing.T) {
	l := LoyaltyFor(5200)
	assert.Equal(t, int64(5200), l.Points)
	assert.Equal(t, TierSilver, l.Tier)
	assert.Equal(t, "0.1", l.Discount.String())
}

func TestEarnDeduct(t *testing.T) {
	assert.Equal(t, int64(1500), Earn(500, 1000))
	assert.Equal(t, int64(0), Deduct(500, 1000))
	assert.Equal(t, int64(0), Deduct(1000, 1000))
	assert.Equal(t, int64(250), Deduct(1000, 750))
	assert.Equal(t, int64(10), Deduct(10, 0))
}

func TestPointsForBooking(t *testing.T) {
	tests := []struct {
		price    string
		discount string
		want     int64
	}{
		{"49.99", "0.10", 449},
		{"100", "0", 1000},
		{"100", "0.05", 950},
		{"0", "0.2", 0},
		{"0.09", "0", 0},
		{"19.999", "0.15", 169},
	}
	for _, tt := range tests {
		got := PointsForBooking(decimal.RequireFromString(tt.price), decimal.RequireFromString(tt.discount))
		assert.Equal(t, tt.want, got, "price=%s discount=%s", tt.price, tt.discount)
	}
}
