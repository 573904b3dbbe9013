package payments

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// SplitFee divides amount into the platform fee and the seller share. The fee
// is rounded half away from zero to cents and the seller gets the remainder,
// so fee + seller always equals amount.
func SplitFee(amount, feePercent decimal.Decimal) (fee, seller decimal.Decimal) {
	fee = amount.Mul(feePercent).Div(hundred).Round(2)
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	if fee.GreaterThan(amount) {
		fee = amount
	}
	return fee, amount.Sub(fee)
}
