package domain

import "github.com/shopspring/decimal"

type Tier string

const (
	TierStandard Tier = "Standard"
	TierBronze   Tier = "Bronze"
	TierSilver   Tier = "Silver"
	TierGold     Tier = "Gold"
	TierElite    Tier = "Elite"
)

// PointsPerUnit is the number of loyalty points earned per discounted currency unit.
const PointsPerUnit = 10

type tierBand struct {
	min      int64
	tier     Tier
	discount decimal.Decimal
}

// Descending by threshold; the first band whose min is <= points wins.
var tierBands = []tierBand{
	{min: 50000, tier: TierElite, discount: decimal.RequireFromString("0.20")},
	{min: 15000, tier: TierGold, discount: decimal.RequireFromString("0.15")},
	{min: 5000, tier: TierSilver, discount: decimal.RequireFromString("0.10")},
	{min: 1000, tier: TierBronze, discount: decimal.RequireFromString("0.05")},
	{min: 0, tier: TierStandard, discount: decimal.Zero},
}

func bandFor(points int64) tierBand {
	for _, b := range tierBands {
		if points >= b.min {
			return b
		}
	}
	return tierBands[len(tierBands)-1]
}

func TierFor(points int64) Tier {
	return bandFor(points).tier
}

// DiscountFor returns the fractional discount (0.05 == 5%) for a points balance.
func DiscountFor(points int64) decimal.Decimal {
	return bandFor(points).discount
}

// Loyalty is the derived view of a user's balance. It is never persisted.
type Loyalty struct {
	Points   int64
	Tier     Tier
	Discount decimal.Decimal
}

func LoyaltyFor(points int64) Loyalty {
	b := bandFor(points)
	return Loyalty{Points: points, Tier: b.tier, Discount: b.discount}
}

func Earn(points, delta int64) int64 {
	return points + delta
}

func Deduct(points, delta int64) int64 {
	if delta >= points {
		return 0
	}
	return points - delta
}

// PointsForBooking truncates price*(1-discount)*10 toward zero.
func PointsForBooking(price, discount decimal.Decimal) int64 {
	if price.IsNegative() {
		return 0
	}
	paid := price.Mul(decimal.NewFromInt(1).Sub(discount))
	return paid.Mul(decimal.NewFromInt(PointsPerUnit)).Floor().IntPart()
}
