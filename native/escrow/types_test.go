package escrow

import (
	"math/big"
	"testing"
)

func TestCompatibilityTable(t *testing.T) {
	allowed := map[OrderStatus]map[RefundStatus]bool{
		OrderPaid:      {RefundNone: true},
		OrderAccepted:  {RefundNone: true, RefundRequested: true, RefundAccepted: true, RefundDeclined: true},
		OrderCompleted: {RefundNone: true, RefundDeclined: true, RefundWithdrawn: true},
	}
	for _, status := range []OrderStatus{OrderNone, OrderPaid, OrderAccepted, OrderCompleted} {
		for refund := RefundNone; refund <= RefundWithdrawn; refund++ {
			if got := Compatible(status, refund); got != allowed[status][refund] {
				t.Fatalf("Compatible(%s, %s) = %v", status, refund, got)
			}
		}
	}
}

func TestCheckTransitionRejectsRegressions(t *testing.T) {
	base := &Order{Buyer: buyerAddr, Seller: sellerAddr, ID: 1, Price: big.NewInt(1), Status: OrderCompleted, RefundStatus: RefundWithdrawn}
	back := base.Clone()
	back.Status = OrderAccepted
	back.RefundStatus = RefundAccepted
	expectErr(t, checkTransition(base, back), ErrIllegalTransition)

	paid := &Order{Buyer: buyerAddr, Seller: sellerAddr, ID: 1, Price: big.NewInt(1), Status: OrderPaid}
	requested := paid.Clone()
	requested.RefundStatus = RefundRequested
	expectErr(t, checkTransition(paid, requested), ErrIllegalTransition)

	accepted := paid.Clone()
	accepted.Status = OrderAccepted
	if err := checkTransition(paid, accepted); err != nil {
		t.Fatalf("paid -> accepted: %v", err)
	}
}

func TestDisplayStatus(t *testing.T) {
	cases := []struct {
		status OrderStatus
		refund RefundStatus
		want   DisplayStatus
	}{
		{OrderNone, RefundNone, DisplayNone},
		{OrderPaid, RefundNone, DisplayPaid},
		{OrderAccepted, RefundNone, DisplayAccepted},
		{OrderAccepted, RefundRequested, DisplayRefundPending},
		{OrderAccepted, RefundAccepted, DisplayRefundAccepted},
		{OrderAccepted, RefundDeclined, DisplayRefundDeclined},
		{OrderCompleted, RefundWithdrawn, DisplayCompleted},
		{OrderCompleted, RefundDeclined, DisplayCompleted},
	}
	for _, tc := range cases {
		order := &Order{Status: tc.status, RefundStatus: tc.refund}
		if got := order.Display(); got != tc.want {
			t.Fatalf("%s/%s: want %d got %d", tc.status, tc.refund, tc.want, got)
		}
	}
}

func TestParseOutcome(t *testing.T) {
	for input, want := range map[string]RefundStatus{"accepted": RefundAccepted, "5": RefundAccepted, "declined": RefundDeclined, "6": RefundDeclined} {
		got, err := ParseOutcome(input)
		if err != nil || got != want {
			t.Fatalf("ParseOutcome(%q) = %s, %v", input, got, err)
		}
	}
	for _, input := range []string{"", "0", "4", "requested", "withdrawn"} {
		if _, err := ParseOutcome(input); err != ErrInvalidOutcome {
			t.Fatalf("ParseOutcome(%q) should fail, got %v", input, err)
		}
	}
}

func TestSanitizeOrder(t *testing.T) {
	valid := &Order{Buyer: buyerAddr, Seller: sellerAddr, ID: 1, Price: big.NewInt(5), Status: OrderPaid}
	if _, err := SanitizeOrder(valid); err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}
	bad := []*Order{
		nil,
		{Buyer: buyerAddr, Seller: buyerAddr, ID: 1, Price: big.NewInt(5), Status: OrderPaid},
		{Buyer: buyerAddr, Seller: sellerAddr, ID: 0, Price: big.NewInt(5), Status: OrderPaid},
		{Buyer: buyerAddr, Seller: sellerAddr, ID: 1, Price: big.NewInt(0), Status: OrderPaid},
		{Buyer: buyerAddr, Seller: sellerAddr, ID: 1, Price: big.NewInt(5), Status: OrderPaid, RefundStatus: RefundRequested},
		{Buyer: buyerAddr, Seller: sellerAddr, ID: 1, Price: big.NewInt(5), Status: OrderStatus(7)},
	}
	for i, order := range bad {
		if _, err := SanitizeOrder(order); err == nil {
			t.Fatalf("case %d: expected rejection", i)
		}
	}
}

func TestPolicySplit(t *testing.T) {
	cases := []struct {
		bps         uint32
		amount      int64
		fee, payout int64
	}{
		{0, 100, 0, 100},
		{100, 100, 1, 99},
		{100, 99, 0, 99},
		{250, 1_000, 25, 975},
		{MaxFeeBps, 7, 7, 0},
	}
	for _, tc := range cases {
		fee, payout := Policy{FeeBps: tc.bps}.Split(big.NewInt(tc.amount))
		if fee.Int64() != tc.fee || payout.Int64() != tc.payout {
			t.Fatalf("bps %d amount %d: got fee %s payout %s", tc.bps, tc.amount, fee, payout)
		}
	}
	if err := (Policy{FeeBps: MaxFeeBps + 1, AcceptanceWindow: 1, WarrantyWindow: 1}).Validate(); err == nil {
		t.Fatalf("expected fee bps validation error")
	}
	if err := (Policy{AcceptanceWindow: 0, WarrantyWindow: 1}).Validate(); err == nil {
		t.Fatalf("expected acceptance window validation error")
	}
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}
