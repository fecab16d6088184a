package fees

import (
	"github.com/shopspring/decimal"

	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
)

// band is an inclusive upper bound and the fee charged up to it.
type band struct {
	upTo decimal.Decimal
	fee  decimal.Decimal
}

var bands = []band{
	{decimal.NewFromInt(1), decimal.Zero},
	{decimal.NewFromInt(5), decimal.RequireFromString("0.05")},
	{decimal.NewFromInt(10), decimal.RequireFromString("0.10")},
	{decimal.NewFromInt(15), decimal.RequireFromString("0.20")},
	{decimal.NewFromInt(25), decimal.RequireFromString("0.30")},
	{decimal.NewFromInt(35), decimal.RequireFromString("0.45")},
	{decimal.NewFromInt(50), decimal.RequireFromString("0.50")},
	{decimal.NewFromInt(75), decimal.RequireFromString("0.68")},
	{decimal.NewFromInt(100), decimal.RequireFromString("0.79")},
	{decimal.NewFromInt(150), decimal.RequireFromString("0.88")},
}

var topFee = decimal.RequireFromString("0.95")

// Fee maps a token amount to the tiered service fee. The schedule is a
// step function, non-decreasing in amount, denominated in token units.
func Fee(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, domain.ErrValidation
	}
	for _, b := range bands {
		if amount.LessThanOrEqual(b.upTo) {
			return b.fee, nil
		}
	}
	return topFee, nil
}
