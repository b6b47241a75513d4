package escrow

import (
	"math/big"
	"testing"
)

func TestGetOrderAccess(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 100)

	for _, caller := range [][20]byte{buyerAddr, sellerAddr, ownerAddr} {
		order, err := h.engine.GetOrder(caller, buyerAddr, sellerAddr, 1)
		if err != nil {
			t.Fatalf("read by %x: %v", caller[0], err)
		}
		if order.Buyer != buyerAddr || order.Seller != sellerAddr || order.ID != 1 {
			t.Fatalf("unexpected order %+v", order)
		}
	}
	_, err := h.engine.GetOrder(strangerAddr, buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrUnauthorized)

	cases := []struct {
		buyer, seller [20]byte
		id            uint64
		want          error
	}{
		{[20]byte{}, sellerAddr, 1, ErrInvalidBuyer},
		{buyerAddr, [20]byte{}, 1, ErrInvalidSeller},
		{buyerAddr, buyerAddr, 1, ErrPartiesMatch},
		{sellerAddr, sellerAddr, 1, ErrPartiesMatch},
		{buyerAddr, sellerAddr, 2, ErrInvalidID},
		{buyerAddr, sellerAddr, 0, ErrOrderNotFound},
		{sellerAddr, buyerAddr, 1, ErrInvalidID},
	}
	for _, tc := range cases {
		_, err := h.engine.GetOrder(buyerAddr, tc.buyer, tc.seller, tc.id)
		expectErr(t, err, tc.want)
	}
}

func TestReturnedOrdersAreCopies(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 100)
	order, _ := h.engine.GetOrder(buyerAddr, buyerAddr, sellerAddr, 1)
	order.Price.SetInt64(1)
	order.Status = OrderCompleted
	again, _ := h.engine.GetOrder(buyerAddr, buyerAddr, sellerAddr, 1)
	if again.Price.Int64() != 100 || again.Status != OrderPaid {
		t.Fatalf("caller mutation leaked into the ledger")
	}
}

func TestEnumeration(t *testing.T) {
	h := newHarness(t)
	otherSeller := newTestAddress(0x06)
	h.buy(t, 10)
	h.buy(t, 20)
	if _, err := h.engine.Buy(buyerAddr, otherSeller, big.NewInt(30), big.NewInt(30)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	count, err := h.engine.CountFor(buyerAddr, buyerAddr, RoleBuyer)
	if err != nil || count != 3 {
		t.Fatalf("buyer count: want 3 got %d (%v)", count, err)
	}
	count, err = h.engine.CountFor(sellerAddr, sellerAddr, RoleSeller)
	if err != nil || count != 2 {
		t.Fatalf("seller count: want 2 got %d (%v)", count, err)
	}
	third, err := h.engine.OrderAt(ownerAddr, buyerAddr, RoleBuyer, 2)
	if err != nil {
		t.Fatalf("order at: %v", err)
	}
	if third.Seller != otherSeller || third.ID != 1 {
		t.Fatalf("ids are pair scoped: got seller %x id %d", third.Seller[0], third.ID)
	}
	_, err = h.engine.OrderAt(buyerAddr, buyerAddr, RoleBuyer, 3)
	expectErr(t, err, ErrInvalidIndex)

	page, total, err := h.engine.OrdersFor(buyerAddr, buyerAddr, RoleBuyer, 1, 1)
	if err != nil || total != 3 || len(page) != 1 || page[0].Price.Int64() != 20 {
		t.Fatalf("unexpected page %+v total %d (%v)", page, total, err)
	}
	page, _, err = h.engine.OrdersFor(buyerAddr, buyerAddr, RoleBuyer, 5, 10)
	if err != nil || len(page) != 0 {
		t.Fatalf("offset past the end must yield an empty page")
	}

	_, err = h.engine.CountFor(strangerAddr, buyerAddr, RoleBuyer)
	expectErr(t, err, ErrUnauthorized)
	_, err = h.engine.CountFor(sellerAddr, buyerAddr, RoleBuyer)
	expectErr(t, err, ErrUnauthorized)
	_, err = h.engine.CountFor(buyerAddr, [20]byte{}, RoleBuyer)
	expectErr(t, err, ErrInvalidBuyer)
	_, err = h.engine.CountFor(buyerAddr, [20]byte{}, RoleSeller)
	expectErr(t, err, ErrInvalidSeller)
	_, err = h.engine.CountFor(ownerAddr, buyerAddr, RoleLedger)
	expectErr(t, err, ErrInvalidRole)
}

func TestExportOrders(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 10)
	h.buy(t, 20)
	_, err := h.engine.ExportOrders(buyerAddr)
	expectErr(t, err, ErrUnauthorizedAccount)
	all, err := h.engine.ExportOrders(ownerAddr)
	if err != nil || len(all) != 2 || all[0].ID != 1 || all[1].ID != 2 {
		t.Fatalf("unexpected export %+v (%v)", all, err)
	}
}

func TestBalanceAndCustodyAccess(t *testing.T) {
	h := newHarness(t)
	h.buy(t, 40)
	balance, err := h.engine.Balance(buyerAddr, buyerAddr)
	if err != nil || balance.Int64() != 960 {
		t.Fatalf("unexpected balance %v (%v)", balance, err)
	}
	_, err = h.engine.Balance(sellerAddr, buyerAddr)
	expectErr(t, err, ErrUnauthorized)
	held, err := h.engine.Custody(ownerAddr, buyerAddr, sellerAddr, 1)
	if err != nil || held.Int64() != 40 {
		t.Fatalf("unexpected custody %v (%v)", held, err)
	}
	_, err = h.engine.Custody(buyerAddr, buyerAddr, sellerAddr, 1)
	expectErr(t, err, ErrUnauthorizedAccount)
}
