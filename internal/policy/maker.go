// Package policy implements the maker-only order policy: post-only
// pricing, tick/step quantization, and market-cross detection. All
// arithmetic is exact decimal.
package policy

import (
	"mmexec/internal/core"

	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10000)

// PostOnlyPrice offsets refPrice away from the opposite side by
// offsetBps and quantizes to the tick grid. BUY rounds down, SELL
// rounds up, so the result is always biased away from crossing.
func PostOnlyPrice(side core.Side, refPrice, offsetBps, tickSize decimal.Decimal) decimal.Decimal {
	offset := refPrice.Mul(offsetBps).Div(bpsDivisor)
	if side == core.SideBuy {
		return quantizeDown(refPrice.Sub(offset), tickSize)
	}
	return quantizeUp(refPrice.Add(offset), tickSize)
}

// RoundQty floor-quantizes qty to the step grid
func RoundQty(qty, stepSize decimal.Decimal) decimal.Decimal {
	return quantizeDown(qty, stepSize)
}

// CheckMinQty reports whether qty meets the exchange minimum
func CheckMinQty(qty, minQty decimal.Decimal) bool {
	return qty.GreaterThanOrEqual(minQty)
}

// CrossesMarket reports whether a price would execute against the
// opposite side. Equality counts as crossing: a BUY at the ask or a
// SELL at the bid is a taker.
func CrossesMarket(side core.Side, price, bestBid, bestAsk decimal.Decimal) bool {
	if side == core.SideBuy {
		return price.GreaterThanOrEqual(bestAsk)
	}
	return price.LessThanOrEqual(bestBid)
}

func quantizeDown(v, grid decimal.Decimal) decimal.Decimal {
	if grid.Sign() <= 0 {
		return v
	}
	return v.Div(grid).Floor().Mul(grid)
}

func quantizeUp(v, grid decimal.Decimal) decimal.Decimal {
	if grid.Sign() <= 0 {
		return v
	}
	return v.Div(grid).Ceil().Mul(grid)
}
