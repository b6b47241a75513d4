package state_test

import (
	"bytes"
	"math/big"
	"path/filepath"
	"testing"

	"janus/core/state"
	escrowpkg "janus/native/escrow"
	"janus/storage"
)

func address(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func openEngine(t *testing.T, db storage.Database, now *int64) *escrowpkg.Engine {
	t.Helper()
	engine := escrowpkg.NewEngine(state.NewEscrowBackend(state.NewManager(db)))
	engine.SetNowFunc(func() int64 { return *now })
	policy := escrowpkg.Policy{FeeBps: 100, AcceptanceWindow: 60, WarrantyWindow: 600}
	if _, err := engine.Bootstrap(escrowpkg.Genesis{Owner: address(0x01), Policy: policy}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return engine
}

func TestEscrowLedgerSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	now := int64(1_700_000_000)
	owner, buyer, seller := address(0x01), address(0x02), address(0x03)

	engine := openEngine(t, db, &now)
	if _, err := engine.Deposit(buyer, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Buy(buyer, seller, big.NewInt(200), big.NewInt(200)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := engine.Sell(seller, buyer, 1, big.NewInt(200)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if err := engine.Pause(owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	db.Close()

	db, err = storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	t.Cleanup(db.Close)
	now += 10
	engine = openEngine(t, db, &now)

	cfg, err := engine.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if !cfg.Paused || cfg.CreationMarker != 1_700_000_000 {
		t.Fatalf("configuration not restored: %+v", cfg)
	}
	if err := engine.Unpause(owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	order, err := engine.GetOrder(buyer, buyer, seller, 1)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != escrowpkg.OrderAccepted || order.Price.Int64() != 200 || order.AcceptedAt != 1_700_000_000 {
		t.Fatalf("unexpected restored order %+v", order)
	}
	held, err := engine.Custody(owner, buyer, seller, 1)
	if err != nil || held.Int64() != 200 {
		t.Fatalf("unexpected custody %v (%v)", held, err)
	}

	now += 600
	if _, err := engine.WithdrawOrder(seller, buyer, 1); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	balance, err := engine.Balance(seller, seller)
	if err != nil || balance.Int64() != 198 {
		t.Fatalf("unexpected seller balance %v (%v)", balance, err)
	}
	held, _ = engine.Custody(owner, buyer, seller, 1)
	if held.Sign() != 0 {
		t.Fatalf("custody must be released, got %s", held)
	}
}

func TestEscrowBackendRejectsPolicyDrift(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	now := int64(1)
	openEngine(t, db, &now)
	engine := escrowpkg.NewEngine(state.NewEscrowBackend(state.NewManager(db)))
	policy := escrowpkg.Policy{FeeBps: 200, AcceptanceWindow: 60, WarrantyWindow: 600}
	if _, err := engine.Bootstrap(escrowpkg.Genesis{Owner: address(0x01), Policy: policy}); err == nil {
		t.Fatalf("expected stored policy to win")
	}
}

func TestEscrowIndicesPersist(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	now := int64(1)
	engine := openEngine(t, db, &now)
	owner, buyer := address(0x01), address(0x02)
	if _, err := engine.Deposit(buyer, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	for i := byte(0); i < 3; i++ {
		seller := address(0x10 + i)
		if _, err := engine.Buy(buyer, seller, big.NewInt(10), big.NewInt(10)); err != nil {
			t.Fatalf("buy: %v", err)
		}
	}
	orders, total, err := engine.OrdersFor(buyer, buyer, escrowpkg.RoleBuyer, 0, 0)
	if err != nil || total != 3 || len(orders) != 3 {
		t.Fatalf("unexpected orders %d/%d (%v)", len(orders), total, err)
	}
	for i, order := range orders {
		if order.Seller != address(0x10+byte(i)) || order.ID != 1 {
			t.Fatalf("unexpected order at %d: %+v", i, order)
		}
	}
	all, err := engine.ExportOrders(owner)
	if err != nil || len(all) != 3 {
		t.Fatalf("unexpected export %d (%v)", len(all), err)
	}
}
