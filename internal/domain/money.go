package domain

import "github.com/shopspring/decimal"

// Round rounds v to the given number of decimal places
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// RoundPct rounds a percentage to one decimal place
func RoundPct(v float64) float64 {
	return Round(v, 1)
}

// FormatMoney renders an amount with two decimals
func FormatMoney(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// MulMoney multiplies quantity by price without binary float drift
func MulMoney(quantity, price float64) float64 {
	return decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(price)).InexactFloat64()
}

// AddMoney sums amounts using decimal arithmetic
func AddMoney(values ...float64) float64 {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	return sum.InexactFloat64()
}
