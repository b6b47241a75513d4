package escrow

import (
	"fmt"
	"math/big"
)

const (
	// MaxFeeBps caps the service fee at 100%.
	MaxFeeBps = 10_000

	DefaultFeeBps           = 100
	DefaultAcceptanceWindow = int64(24 * 60 * 60)
	DefaultWarrantyWindow   = int64(30 * 24 * 60 * 60)
)

// Policy is the immutable economic and timing configuration of the ledger.
// Windows are expressed in seconds.
type Policy struct {
	FeeBps           uint32
	AcceptanceWindow int64
	WarrantyWindow   int64
}

// DefaultPolicy returns a one-day acceptance window, a thirty-day warranty
// window and a 1% fee.
func DefaultPolicy() Policy {
	return Policy{
		FeeBps:           DefaultFeeBps,
		AcceptanceWindow: DefaultAcceptanceWindow,
		WarrantyWindow:   DefaultWarrantyWindow,
	}
}

// Validate ensures the policy values are usable.
func (p Policy) Validate() error {
	if p.FeeBps > MaxFeeBps {
		return fmt.Errorf("escrow: fee bps out of range: %d", p.FeeBps)
	}
	if p.AcceptanceWindow <= 0 {
		return fmt.Errorf("escrow: acceptance window must be positive")
	}
	if p.WarrantyWindow <= 0 {
		return fmt.Errorf("escrow: warranty window must be positive")
	}
	return nil
}

// Split divides a custodied amount into the service fee and the seller
// payout. The fee is rounded down so the payout never loses a unit to
// rounding.
func (p Policy) Split(amount *big.Int) (fee, payout *big.Int) {
	total := cloneBigInt(amount)
	fee = new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(p.FeeBps)))
	fee.Div(fee, big.NewInt(MaxFeeBps))
	payout = new(big.Int).Sub(total, fee)
	return fee, payout
}

// acceptanceDeadline is the last instant at which the seller may accept.
func (p Policy) acceptanceDeadline(o *Order) int64 {
	return o.CreatedAt + p.AcceptanceWindow
}

// warrantyDeadline is the last instant at which the buyer may dispute and the
// first at which the seller may withdraw.
func (p Policy) warrantyDeadline(o *Order) int64 {
	return o.AcceptedAt + p.WarrantyWindow
}

// Config is the global configuration aggregate persisted next to the orders.
type Config struct {
	Owner           [20]byte
	FeeTreasury     [20]byte
	Policy          Policy
	Paused          bool
	NewOrdersPaused bool
	// CreationMarker records when the ledger was first initialised.
	CreationMarker int64
}

// Clone returns a copy of the configuration record.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// treasury resolves the fee recipient, falling back to the owner.
func (c *Config) treasury() [20]byte {
	if c.FeeTreasury != ([20]byte{}) {
		return c.FeeTreasury
	}
	return c.Owner
}

// Genesis seeds the configuration record the first time a ledger is opened.
type Genesis struct {
	Owner       [20]byte
	FeeTreasury [20]byte
	Policy      Policy
}

func errPolicyChanged(stored, requested Policy) error {
	return fmt.Errorf("escrow: configured policy %+v differs from the ledger's immutable policy %+v", requested, stored)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
