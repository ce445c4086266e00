package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ApplyDiscount returns total reduced by percent, rounded to cents.
func ApplyDiscount(total decimal.Decimal, percent decimal.Decimal) decimal.Decimal {
	if !percent.IsPositive() {
		return RoundMoney(total)
	}
	return RoundMoney(total.Mul(hundred.Sub(percent)).Div(hundred))
}

func ValidDiscount(percent decimal.Decimal) bool {
	return !percent.IsNegative() && percent.LessThan(hundred)
}

// PaymentStatusFor derives the payment status of a non-refunded sale.
func PaymentStatusFor(paid decimal.Decimal, final decimal.Decimal) PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(final):
		return PaymentStatusPaid
	case paid.IsPositive():
		return PaymentStatusPartial
	default:
		return PaymentStatusUnpaid
	}
}

// ApplyPayment adds amount to the paid total and recomputes the payment
// status. Callers check amount against Remaining first.
func (s *Sale) ApplyPayment(amount decimal.Decimal) {
	s.PaidAmount = RoundMoney(s.PaidAmount.Add(amount))
	s.PaymentStatus = PaymentStatusFor(s.PaidAmount, s.FinalAmount)
}
