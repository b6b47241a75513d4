package state

import (
	"fmt"
	"math/big"

	"janus/core/types"
	"janus/native/escrow"
)

type storedOrder struct {
	Buyer        [20]byte
	Seller       [20]byte
	ID           uint64
	Price        *big.Int
	CreatedAt    uint64
	AcceptedAt   uint64
	Status       uint8
	RefundStatus uint8
}

type storedRef struct {
	Buyer  [20]byte
	Seller [20]byte
	ID     uint64
}

type storedConfig struct {
	Owner            [20]byte
	FeeTreasury      [20]byte
	FeeBps           uint32
	AcceptanceWindow uint64
	WarrantyWindow   uint64
	Paused           bool
	NewOrdersPaused  bool
	CreationMarker   uint64
}

func newStoredOrder(o *escrow.Order) *storedOrder {
	return &storedOrder{
		Buyer:        o.Buyer,
		Seller:       o.Seller,
		ID:           o.ID,
		Price:        new(big.Int).Set(o.Price),
		CreatedAt:    uint64(o.CreatedAt),
		AcceptedAt:   uint64(o.AcceptedAt),
		Status:       uint8(o.Status),
		RefundStatus: uint8(o.RefundStatus),
	}
}

func (s *storedOrder) toOrder() *escrow.Order {
	price := big.NewInt(0)
	if s.Price != nil {
		price = new(big.Int).Set(s.Price)
	}
	return &escrow.Order{
		Buyer:        s.Buyer,
		Seller:       s.Seller,
		ID:           s.ID,
		Price:        price,
		CreatedAt:    int64(s.CreatedAt),
		AcceptedAt:   int64(s.AcceptedAt),
		Status:       escrow.OrderStatus(s.Status),
		RefundStatus: escrow.RefundStatus(s.RefundStatus),
	}
}

// EscrowBackend adapts the manager to the escrow engine's storage contract.
type EscrowBackend struct {
	mgr *Manager
}

// NewEscrowBackend wraps mgr for use by escrow.NewEngine.
func NewEscrowBackend(mgr *Manager) *EscrowBackend {
	return &EscrowBackend{mgr: mgr}
}

// Update implements escrow.Backend.
func (b *EscrowBackend) Update(fn func(escrow.State) error) error {
	return b.mgr.Update(func(tx *Tx) error {
		return fn(escrowState{tx: tx})
	})
}

// View implements escrow.Backend.
func (b *EscrowBackend) View(fn func(escrow.State) error) error {
	return b.mgr.View(func(tx *Tx) error {
		return fn(escrowState{tx: tx})
	})
}

type escrowState struct {
	tx *Tx
}

var _ escrow.State = escrowState{}

func (s escrowState) OrderGet(buyer, seller [20]byte, id uint64) (*escrow.Order, bool, error) {
	var stored storedOrder
	ok, err := s.tx.KVGet(EscrowOrderKey(buyer, seller, id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	order, err := escrow.SanitizeOrder(stored.toOrder())
	if err != nil {
		return nil, false, fmt.Errorf("escrow: corrupt order %d: %w", id, err)
	}
	return order, true, nil
}

func (s escrowState) OrderPut(o *escrow.Order) error {
	sanitized, err := escrow.SanitizeOrder(o)
	if err != nil {
		return err
	}
	if err := checkAmount(sanitized.Price); err != nil {
		return fmt.Errorf("escrow price: %w", err)
	}
	return s.tx.KVPut(EscrowOrderKey(sanitized.Buyer, sanitized.Seller, sanitized.ID), newStoredOrder(sanitized))
}

func (s escrowState) PairCount(buyer, seller [20]byte) (uint64, error) {
	var count uint64
	if _, err := s.tx.KVGet(EscrowPairKey(buyer, seller), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s escrowState) SetPairCount(buyer, seller [20]byte, count uint64) error {
	return s.tx.KVPut(EscrowPairKey(buyer, seller), count)
}

func (s escrowState) IndexLen(role escrow.Role, party [20]byte) (uint64, error) {
	var n uint64
	if _, err := s.tx.KVGet(EscrowIndexLenKey(role, party), &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s escrowState) IndexAt(role escrow.Role, party [20]byte, index uint64) (escrow.OrderRef, bool, error) {
	var ref storedRef
	ok, err := s.tx.KVGet(EscrowIndexEntryKey(role, party, index), &ref)
	if err != nil || !ok {
		return escrow.OrderRef{}, false, err
	}
	return escrow.OrderRef{Buyer: ref.Buyer, Seller: ref.Seller, ID: ref.ID}, true, nil
}

func (s escrowState) IndexAppend(role escrow.Role, party [20]byte, ref escrow.OrderRef) error {
	n, err := s.IndexLen(role, party)
	if err != nil {
		return err
	}
	entry := &storedRef{Buyer: ref.Buyer, Seller: ref.Seller, ID: ref.ID}
	if err := s.tx.KVPut(EscrowIndexEntryKey(role, party, n), entry); err != nil {
		return err
	}
	return s.tx.KVPut(EscrowIndexLenKey(role, party), n+1)
}

func (s escrowState) ConfigGet() (*escrow.Config, bool, error) {
	var stored storedConfig
	ok, err := s.tx.KVGet(EscrowConfigKey(), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &escrow.Config{
		Owner:       stored.Owner,
		FeeTreasury: stored.FeeTreasury,
		Policy: escrow.Policy{
			FeeBps:           stored.FeeBps,
			AcceptanceWindow: int64(stored.AcceptanceWindow),
			WarrantyWindow:   int64(stored.WarrantyWindow),
		},
		Paused:          stored.Paused,
		NewOrdersPaused: stored.NewOrdersPaused,
		CreationMarker:  int64(stored.CreationMarker),
	}, true, nil
}

func (s escrowState) ConfigPut(cfg *escrow.Config) error {
	if cfg == nil {
		return fmt.Errorf("escrow: nil config")
	}
	return s.tx.KVPut(EscrowConfigKey(), &storedConfig{
		Owner:            cfg.Owner,
		FeeTreasury:      cfg.FeeTreasury,
		FeeBps:           cfg.Policy.FeeBps,
		AcceptanceWindow: uint64(cfg.Policy.AcceptanceWindow),
		WarrantyWindow:   uint64(cfg.Policy.WarrantyWindow),
		Paused:           cfg.Paused,
		NewOrdersPaused:  cfg.NewOrdersPaused,
		CreationMarker:   uint64(cfg.CreationMarker),
	})
}

func (s escrowState) GetAccount(addr [20]byte) (*types.Account, error) {
	return s.tx.GetAccount(addr)
}

func (s escrowState) PutAccount(addr [20]byte, account *types.Account) error {
	return s.tx.PutAccount(addr, account)
}

func (s escrowState) CustodyGet(ref escrow.OrderRef) (*big.Int, error) {
	var held *big.Int
	ok, err := s.tx.KVGet(EscrowCustodyKey(ref), &held)
	if err != nil {
		return nil, err
	}
	if !ok || held == nil {
		return big.NewInt(0), nil
	}
	return held, nil
}

func (s escrowState) CustodyPut(ref escrow.OrderRef, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return s.tx.KVDelete(EscrowCustodyKey(ref))
	}
	if err := checkAmount(amount); err != nil {
		return fmt.Errorf("escrow custody: %w", err)
	}
	return s.tx.KVPut(EscrowCustodyKey(ref), amount)
}
