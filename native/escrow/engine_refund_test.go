package escrow

import (
	"math/big"
	"testing"
)

func TestScenarioAbandonedOrderRefundsImmediately(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 100)

	_, err := h.engine.RequestRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrOrderNotYetAccepted)

	h.clock.Advance(testAcceptance)
	_, err = h.engine.RequestRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrOrderNotYetAccepted)

	h.clock.Advance(1)
	order, err := h.engine.RequestRefund(buyerAddr, sellerAddr, 1)
	if err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if order.Status != OrderCompleted || order.RefundStatus != RefundWithdrawn {
		t.Fatalf("unexpected state %s/%s", order.Status, order.RefundStatus)
	}
	if got := h.balance(t, buyerAddr); got != 1_000 {
		t.Fatalf("buyer must be made whole, balance %d", got)
	}
	if len(h.events.ofType(EventTypeRefundRequested)) != 0 {
		t.Fatalf("abandoned order must never pass through a requested refund")
	}
	withdrawn := h.events.ofType(EventTypeRefundWithdrawn)
	if len(withdrawn) != 1 || withdrawn[0].Attributes["reason"] != refundReasonExpired {
		t.Fatalf("unexpected refund events %+v", withdrawn)
	}

	_, err = h.engine.Sell(sellerAddr, buyerAddr, 1, big.NewInt(100))
	expectErr(t, err, ErrOrderCompleted)
	_, err = h.engine.RequestRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrOrderCompleted)
}

func TestScenarioArbiterAcceptsRefund(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 100)
	h.sell(t, 1, 100)
	h.clock.Advance(testAcceptance)

	if _, err := h.engine.RequestRefund(buyerAddr, sellerAddr, 1); err != nil {
		t.Fatalf("request refund: %v", err)
	}
	_, err := h.engine.WithdrawRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrRefundInProgress)

	resolved, err := h.engine.ResolveRefund(ownerAddr, buyerAddr, sellerAddr, 1, RefundAccepted)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Display() != DisplayRefundAccepted {
		t.Fatalf("unexpected display status %d", resolved.Display())
	}
	outcome := h.events.ofType(EventTypeRefundResolved)
	if len(outcome) != 1 || outcome[0].Attributes["outcome"] != "accepted" {
		t.Fatalf("unexpected resolved events %+v", outcome)
	}

	order, err := h.engine.WithdrawRefund(buyerAddr, sellerAddr, 1)
	if err != nil {
		t.Fatalf("withdraw refund: %v", err)
	}
	if order.Status != OrderCompleted || order.RefundStatus != RefundWithdrawn {
		t.Fatalf("unexpected state %s/%s", order.Status, order.RefundStatus)
	}
	if got := h.balance(t, buyerAddr); got != 1_000 {
		t.Fatalf("refund must return the full price, balance %d", got)
	}

	h.clock.Advance(testWarranty)
	_, err = h.engine.WithdrawOrder(sellerAddr, buyerAddr, 1)
	expectErr(t, err, ErrOrderCompleted)
	if got := h.balance(t, sellerAddr); got != 0 {
		t.Fatalf("seller must not be paid, balance %d", got)
	}
	_, err = h.engine.WithdrawRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrOrderCompleted)
}

func TestGrantedRefundBlocksSellerWithdrawal(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 100)
	h.sell(t, 1, 100)
	if _, err := h.engine.RequestRefund(buyerAddr, sellerAddr, 1); err != nil {
		t.Fatalf("request refund: %v", err)
	}
	h.clock.Advance(testWarranty)
	_, err := h.engine.WithdrawOrder(sellerAddr, buyerAddr, 1)
	expectErr(t, err, ErrRefundPending)
	if _, err := h.engine.ResolveRefund(ownerAddr, buyerAddr, sellerAddr, 1, RefundAccepted); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, err = h.engine.WithdrawOrder(sellerAddr, buyerAddr, 1)
	expectErr(t, err, ErrRefundGranted)
}

func TestScenarioArbiterDeclinesRefund(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 100)
	h.sell(t, 1, 100)
	if _, err := h.engine.RequestRefund(buyerAddr, sellerAddr, 1); err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if _, err := h.engine.ResolveRefund(ownerAddr, buyerAddr, sellerAddr, 1, RefundDeclined); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, err := h.engine.WithdrawRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrRefundAlreadyDeclined)
	_, err = h.engine.RequestRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrRefundAlreadyDeclined)

	h.clock.Advance(testWarranty)
	order, err := h.engine.WithdrawOrder(sellerAddr, buyerAddr, 1)
	if err != nil {
		t.Fatalf("withdraw order: %v", err)
	}
	if order.Status != OrderCompleted || order.RefundStatus != RefundDeclined {
		t.Fatalf("unexpected state %s/%s", order.Status, order.RefundStatus)
	}
	if got := h.balance(t, sellerAddr); got != 99 {
		t.Fatalf("seller payout: want 99, got %d", got)
	}
	_, err = h.engine.WithdrawRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrOrderCompleted)
	if got := h.balance(t, buyerAddr); got != 900 {
		t.Fatalf("buyer must not be refunded, balance %d", got)
	}
}

func TestRefundWindowBoundary(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 100)
	h.clock.Advance(10)
	accepted := h.sell(t, 1, 100)

	h.clock.now = accepted.AcceptedAt + testWarranty + 1
	_, err := h.engine.RequestRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrRefundWindowClosed)

	h.clock.now = accepted.AcceptedAt + testWarranty
	order, err := h.engine.RequestRefund(buyerAddr, sellerAddr, 1)
	if err != nil {
		t.Fatalf("request at the last legal instant: %v", err)
	}
	if order.RefundStatus != RefundRequested {
		t.Fatalf("unexpected refund status %s", order.RefundStatus)
	}
}

func TestRevokeRefund(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 100)

	_, err := h.engine.RevokeRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrNoRefundRequested)

	h.sell(t, 1, 100)
	_, err = h.engine.RevokeRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrNoRefundRequested)

	if _, err := h.engine.RequestRefund(buyerAddr, sellerAddr, 1); err != nil {
		t.Fatalf("request refund: %v", err)
	}
	_, err = h.engine.RequestRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrRefundAlreadyRequested)

	order, err := h.engine.RevokeRefund(buyerAddr, sellerAddr, 1)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if order.RefundStatus != RefundNone {
		t.Fatalf("revoke must reset the refund, got %s", order.RefundStatus)
	}
	if len(h.events.ofType(EventTypeRefundRevoked)) != 1 {
		t.Fatalf("expected a revoked event")
	}

	if _, err := h.engine.RequestRefund(buyerAddr, sellerAddr, 1); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if _, err := h.engine.ResolveRefund(ownerAddr, buyerAddr, sellerAddr, 1, RefundAccepted); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, err = h.engine.RevokeRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrRefundAlreadyAccepted)
	_, err = h.engine.RequestRefund(buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrRefundAlreadyAccepted)
}

func TestResolveRefundRejections(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 100)
	h.sell(t, 1, 100)

	_, err := h.engine.ResolveRefund(strangerAddr, buyerAddr, sellerAddr, 1, RefundAccepted)
	expectErr(t, err, ErrUnauthorizedAccount)
	if KindOf(err) != KindAuthorization {
		t.Fatalf("expected authorization kind, got %s", KindOf(err))
	}
	_, err = h.engine.ResolveRefund(buyerAddr, buyerAddr, sellerAddr, 1, RefundAccepted)
	expectErr(t, err, ErrUnauthorizedAccount)

	for _, outcome := range []RefundStatus{RefundNone, RefundRequested, RefundWithdrawn, RefundStatus(9)} {
		_, err = h.engine.ResolveRefund(ownerAddr, buyerAddr, sellerAddr, 1, outcome)
		expectErr(t, err, ErrInvalidOutcome)
	}

	_, err = h.engine.ResolveRefund(ownerAddr, buyerAddr, sellerAddr, 1, RefundAccepted)
	expectErr(t, err, ErrNoRefundRequested)
	_, err = h.engine.ResolveRefund(ownerAddr, buyerAddr, sellerAddr, 2, RefundAccepted)
	expectErr(t, err, ErrInvalidID)

	if _, err := h.engine.RequestRefund(buyerAddr, sellerAddr, 1); err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if _, err := h.engine.ResolveRefund(ownerAddr, buyerAddr, sellerAddr, 1, RefundDeclined); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	before := h.stored(t, buyerAddr, sellerAddr, 1)
	_, err = h.engine.ResolveRefund(ownerAddr, buyerAddr, sellerAddr, 1, RefundDeclined)
	expectErr(t, err, ErrRefundAlreadyDeclined)
	_, err = h.engine.ResolveRefund(ownerAddr, buyerAddr, sellerAddr, 1, RefundAccepted)
	expectErr(t, err, ErrRefundAlreadyDeclined)
	after := h.stored(t, buyerAddr, sellerAddr, 1)
	if before.Price.Cmp(after.Price) != 0 || before.RefundStatus != after.RefundStatus || before.Status != after.Status {
		t.Fatalf("rejected resolution changed the order")
	}
}
