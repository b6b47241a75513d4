package escrow

import (
	"fmt"
	"math/big"
)

// OrderStatus is the forward-only lifecycle of an order.
type OrderStatus uint8

const (
	OrderNone OrderStatus = iota
	OrderPaid
	OrderAccepted
	OrderCompleted
)

// RefundStatus is the dispute overlay evaluated while an order is accepted.
type RefundStatus uint8

const (
	RefundNone RefundStatus = iota
	RefundRequested
	RefundAccepted
	RefundDeclined
	RefundWithdrawn
)

// Role selects which secondary index an enumeration walks.
type Role uint8

const (
	// RoleLedger addresses the ledger-wide index keyed by the zero party.
	RoleLedger Role = iota
	RoleBuyer
	RoleSeller
)

// DisplayStatus is the combined status shown to the arbiter console.
type DisplayStatus uint8

const (
	DisplayNone DisplayStatus = iota
	DisplayPaid
	DisplayAccepted
	DisplayCompleted
	DisplayRefundPending
	DisplayRefundAccepted
	DisplayRefundDeclined
)

// Order is one escrowed agreement. Orders are addressed by the
// (Buyer, Seller, ID) triple; ID is only unique within the pair.
type Order struct {
	Buyer        [20]byte
	Seller       [20]byte
	ID           uint64
	Price        *big.Int
	CreatedAt    int64
	AcceptedAt   int64
	Status       OrderStatus
	RefundStatus RefundStatus
}

// OrderRef points at an order from a secondary index.
type OrderRef struct {
	Buyer  [20]byte
	Seller [20]byte
	ID     uint64
}

// Ref returns the index reference for the order.
func (o *Order) Ref() OrderRef {
	return OrderRef{Buyer: o.Buyer, Seller: o.Seller, ID: o.ID}
}

// Clone returns a deep copy of the order so callers can safely mutate the copy
// without affecting the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Price != nil {
		clone.Price = new(big.Int).Set(o.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Display folds status and refund status into the console view.
func (o *Order) Display() DisplayStatus {
	if o == nil {
		return DisplayNone
	}
	switch o.Status {
	case OrderPaid:
		return DisplayPaid
	case OrderCompleted:
		return DisplayCompleted
	case OrderAccepted:
		switch o.RefundStatus {
		case RefundRequested:
			return DisplayRefundPending
		case RefundAccepted:
			return DisplayRefundAccepted
		case RefundDeclined:
			return DisplayRefundDeclined
		default:
			return DisplayAccepted
		}
	default:
		return DisplayNone
	}
}

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPaid, OrderAccepted, OrderCompleted:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderNone:
		return "none"
	case OrderPaid:
		return "paid"
	case OrderAccepted:
		return "accepted"
	case OrderCompleted:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid reports whether the refund status value is within the supported range.
func (s RefundStatus) Valid() bool {
	return s <= RefundWithdrawn
}

func (s RefundStatus) String() string {
	switch s {
	case RefundNone:
		return "none"
	case RefundRequested:
		return "requested"
	case RefundAccepted:
		return "accepted"
	case RefundDeclined:
		return "declined"
	case RefundWithdrawn:
		return "withdrawn"
	default:
		return fmt.Sprintf("refund(%d)", uint8(s))
	}
}

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleSeller:
		return "seller"
	case RoleLedger:
		return "ledger"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole maps the textual role used by clients.
func ParseRole(s string) (Role, error) {
	switch s {
	case "buyer":
		return RoleBuyer, nil
	case "seller":
		return RoleSeller, nil
	default:
		return 0, fmt.Errorf("escrow: unknown role %q", s)
	}
}

// ParseOutcome maps a textual or numeric resolution outcome. Numeric values
// follow the console status codes (5 accepted, 6 declined).
func ParseOutcome(s string) (RefundStatus, error) {
	switch s {
	case "accepted", "accept", "5":
		return RefundAccepted, nil
	case "declined", "decline", "6":
		return RefundDeclined, nil
	default:
		return RefundNone, ErrInvalidOutcome
	}
}

// refundCompat lists which refund states may be observed under each status.
var refundCompat = map[OrderStatus][]RefundStatus{
	OrderPaid:      {RefundNone},
	OrderAccepted:  {RefundNone, RefundRequested, RefundAccepted, RefundDeclined},
	OrderCompleted: {RefundNone, RefundDeclined, RefundWithdrawn},
}

// Compatible reports whether the pair (status, refund) may be persisted.
func Compatible(status OrderStatus, refund RefundStatus) bool {
	for _, allowed := range refundCompat[status] {
		if allowed == refund {
			return true
		}
	}
	return false
}

var statusTransitions = map[OrderStatus][]OrderStatus{
	OrderNone:     {OrderPaid},
	OrderPaid:     {OrderAccepted, OrderCompleted},
	OrderAccepted: {OrderCompleted},
}

// refundTransitions is forward-only apart from a buyer revoking a pending
// request.
var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundNone:      {RefundRequested, RefundWithdrawn},
	RefundRequested: {RefundNone, RefundAccepted, RefundDeclined},
	RefundAccepted:  {RefundWithdrawn},
}

func canMoveStatus(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func canMoveRefund(from, to RefundStatus) bool {
	if from == to {
		return true
	}
	for _, next := range refundTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition validates a proposed mutation against the transition and
// compatibility tables.
func checkTransition(before, after *Order) error {
	if !canMoveStatus(before.Status, after.Status) {
		return fmt.Errorf("%w: status %s -> %s", ErrIllegalTransition, before.Status, after.Status)
	}
	if !canMoveRefund(before.RefundStatus, after.RefundStatus) {
		return fmt.Errorf("%w: refund %s -> %s", ErrIllegalTransition, before.RefundStatus, after.RefundStatus)
	}
	if !Compatible(after.Status, after.RefundStatus) {
		return fmt.Errorf("%w: refund %s under status %s", ErrIllegalTransition, after.RefundStatus, after.Status)
	}
	return nil
}

// SanitizeOrder validates a decoded order and returns a normalised clone.
func SanitizeOrder(o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("nil order")
	}
	clone := o.Clone()
	if clone.Buyer == ([20]byte{}) || clone.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("order has a null party")
	}
	if clone.Buyer == clone.Seller {
		return nil, fmt.Errorf("order parties match")
	}
	if clone.ID == 0 {
		return nil, fmt.Errorf("order id must be positive")
	}
	if clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("order price must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid order status: %d", clone.Status)
	}
	if !clone.RefundStatus.Valid() {
		return nil, fmt.Errorf("invalid refund status: %d", clone.RefundStatus)
	}
	if !Compatible(clone.Status, clone.RefundStatus) {
		return nil, fmt.Errorf("refund status %s incompatible with %s", clone.RefundStatus, clone.Status)
	}
	return clone, nil
}
