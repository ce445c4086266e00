package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestApplyDiscount(t *testing.T) {
	cases := []struct {
		total, percent, want string
	}{
		{"6000", "0", "6000"},
		{"2700", "10", "2430"},
		{"99.99", "12.5", "87.49"},
		{"100", "-5", "100"},
	}
	for _, tc := range cases {
		if got := ApplyDiscount(d(tc.total), d(tc.percent)); !got.Equal(d(tc.want)) {
			t.Errorf("ApplyDiscount(%s, %s) = %s, want %s", tc.total, tc.percent, got, tc.want)
		}
	}
}

func TestValidDiscount(t *testing.T) {
	if !ValidDiscount(d("0")) || !ValidDiscount(d("99.5")) {
		t.Fatalf("expected 0 and 99.5 to be valid")
	}
	if ValidDiscount(d("100")) || ValidDiscount(d("-1")) {
		t.Fatalf("expected 100 and -1 to be invalid")
	}
}

func TestApplyPaymentRecomputesStatus(t *testing.T) {
	sale := Sale{FinalAmount: d("6000"), PaidAmount: decimal.Zero, IsLoan: true}

	sale.ApplyPayment(d("1000"))
	if sale.PaymentStatus != PaymentStatusPartial || !sale.Remaining().Equal(d("5000")) {
		t.Fatalf("expected partial with 5000 remaining, got %s %s", sale.PaymentStatus, sale.Remaining())
	}
	if !sale.Outstanding() {
		t.Fatalf("expected partial loan to be outstanding")
	}

	sale.ApplyPayment(d("5000"))
	if sale.PaymentStatus != PaymentStatusPaid || sale.Outstanding() {
		t.Fatalf("expected paid and settled, got %s", sale.PaymentStatus)
	}
}

func TestStockEntryDelta(t *testing.T) {
	cases := map[StockEntryType]int{
		StockEntryAdded:   4,
		StockEntrySold:    -4,
		StockEntryDeleted: -4,
	}
	for entryType, want := range cases {
		if got := (StockEntry{EntryType: entryType, Quantity: 4}).Delta(); got != want {
			t.Errorf("%s delta = %d, want %d", entryType, got, want)
		}
	}
}

func TestPriceForFallsBackToRetail(t *testing.T) {
	batch := ProductBatch{SellingPrice: d("1000"), WholesalePrice: d("900")}
	if !batch.PriceFor(OrderTypeWholesale).Equal(d("900")) {
		t.Fatalf("expected wholesale price")
	}
	batch.WholesalePrice = decimal.Zero
	if !batch.PriceFor(OrderTypeWholesale).Equal(d("1000")) {
		t.Fatalf("expected retail fallback when no wholesale price is set")
	}
}
