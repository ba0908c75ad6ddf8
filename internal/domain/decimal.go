package domain

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits kept by every quantization in
// the module. Rounding is half away from zero.
const Scale int32 = 8

func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// DivQuantize divides num by den and rounds the exact quotient to Scale.
// den must not be zero.
func DivQuantize(num, den decimal.Decimal) decimal.Decimal {
	return num.DivRound(den, Scale)
}
