// Package recon compares local state against exchange truth and rolls
// up fee/rebate economics. It is purely observational: nothing here
// mutates the order store.
package recon

import (
	"mmexec/internal/core"

	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10000)

// FeesReport aggregates fill economics under a fee schedule. Absolute
// figures are quote-currency amounts; the bps figures are relative to
// gross notional.
type FeesReport struct {
	GrossNotional   decimal.Decimal `json:"gross_notional"`
	MakerNotional   decimal.Decimal `json:"maker_notional"`
	TakerNotional   decimal.Decimal `json:"taker_notional"`
	MakerCount      int             `json:"maker_count"`
	TakerCount      int             `json:"taker_count"`
	FeesAbsolute    decimal.Decimal `json:"fees_absolute"`
	RebatesAbsolute decimal.Decimal `json:"rebates_absolute"`
	NetAbsolute     decimal.Decimal `json:"net_absolute"`
	FeesBps         decimal.Decimal `json:"fees_bps"`
	RebatesBps      decimal.Decimal `json:"rebates_bps"`
	NetBps          decimal.Decimal `json:"net_bps"`
	MakerTakerRatio decimal.Decimal `json:"maker_taker_ratio"`
}

// scheduleFor resolves the schedule for a fill's symbol: dedicated
// profile entry first, then the "*" wildcard, then the global schedule.
func scheduleFor(symbol string, profile core.FeeProfile, global core.FeeSchedule) core.FeeSchedule {
	if profile != nil {
		if s, ok := profile.Lookup(symbol); ok {
			return s
		}
	}
	return global
}

// ComputeFees rolls fills up into a fees report. Maker fills pay the
// maker rate and earn the rebate; taker fills pay the taker rate.
func ComputeFees(fills []core.FillEvent, profile core.FeeProfile, global core.FeeSchedule) FeesReport {
	r := FeesReport{
		GrossNotional:   decimal.Zero,
		MakerNotional:   decimal.Zero,
		TakerNotional:   decimal.Zero,
		FeesAbsolute:    decimal.Zero,
		RebatesAbsolute: decimal.Zero,
	}

	for _, fill := range fills {
		sched := scheduleFor(fill.Symbol, profile, global)
		notional := fill.Notional()
		r.GrossNotional = r.GrossNotional.Add(notional)

		if fill.IsMaker {
			r.MakerNotional = r.MakerNotional.Add(notional)
			r.MakerCount++
			r.FeesAbsolute = r.FeesAbsolute.Add(notional.Mul(sched.MakerBps).Div(bpsDivisor))
			r.RebatesAbsolute = r.RebatesAbsolute.Add(notional.Mul(sched.MakerRebateBps).Div(bpsDivisor))
		} else {
			r.TakerNotional = r.TakerNotional.Add(notional)
			r.TakerCount++
			r.FeesAbsolute = r.FeesAbsolute.Add(notional.Mul(sched.TakerBps).Div(bpsDivisor))
		}
	}

	r.NetAbsolute = r.FeesAbsolute.Sub(r.RebatesAbsolute)
	if r.GrossNotional.Sign() > 0 {
		r.FeesBps = r.FeesAbsolute.Div(r.GrossNotional).Mul(bpsDivisor)
		r.RebatesBps = r.RebatesAbsolute.Div(r.GrossNotional).Mul(bpsDivisor)
		r.NetBps = r.NetAbsolute.Div(r.GrossNotional).Mul(bpsDivisor)
	} else {
		r.FeesBps = decimal.Zero
		r.RebatesBps = decimal.Zero
		r.NetBps = decimal.Zero
	}
	if r.TakerNotional.Sign() > 0 {
		r.MakerTakerRatio = r.MakerNotional.Div(r.TakerNotional)
	} else {
		r.MakerTakerRatio = r.MakerNotional
	}
	return r
}
