// Package pricing applies markup/VAT/fee adjustments to raw spot prices
// (spec §4.1, the Price Model component).
package pricing

import "github.com/devskill-org/bess-scheduler/bess/settings"

// BuyPrices returns the per-period price paid for imported energy.
// buy = (spot + markup) * vat + additional_costs, unless UseActualPrice is
// false, in which case the raw spot price is returned unchanged.
func BuyPrices(spot []float64, p settings.Price) []float64 {
	out := make([]float64, len(spot))
	if !p.UseActualPrice {
		copy(out, spot)
		return out
	}
	for i, s := range spot {
		out[i] = (s+p.MarkupRate)*p.VATMultiplier + p.AdditionalCosts
	}
	return out
}

// SellPrices returns the per-period price received for exported energy.
// sell = spot + tax_reduction, unless UseActualPrice is false.
func SellPrices(spot []float64, p settings.Price) []float64 {
	out := make([]float64, len(spot))
	if !p.UseActualPrice {
		copy(out, spot)
		return out
	}
	for i, s := range spot {
		out[i] = s + p.TaxReduction
	}
	return out
}

// CycleCostPerKWh scales the battery's raw cycle cost by VAT when prices are
// on an actual-cost basis, so that the wear charge sits on the same currency
// basis as buy/sell prices in the optimizer's reward function.
func CycleCostPerKWh(rawCycleCost float64, p settings.Price) float64 {
	if p.UseActualPrice {
		return rawCycleCost * p.VATMultiplier
	}
	return rawCycleCost
}
