package escrow

import (
	"math/big"

	"janus/core/types"
)

// State is the storage surface an atomic unit of work sees. Reads observe the
// writes staged earlier in the same unit.
type State interface {
	OrderGet(buyer, seller [20]byte, id uint64) (*Order, bool, error)
	OrderPut(*Order) error
	PairCount(buyer, seller [20]byte) (uint64, error)
	SetPairCount(buyer, seller [20]byte, count uint64) error
	IndexLen(role Role, party [20]byte) (uint64, error)
	IndexAt(role Role, party [20]byte, index uint64) (OrderRef, bool, error)
	IndexAppend(role Role, party [20]byte, ref OrderRef) error
	ConfigGet() (*Config, bool, error)
	ConfigPut(*Config) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	CustodyGet(ref OrderRef) (*big.Int, error)
	CustodyPut(ref OrderRef, amount *big.Int) error
}

// Backend runs units of work. Update commits every write staged by fn when fn
// returns nil and discards them otherwise; View must not write.
type Backend interface {
	Update(fn func(State) error) error
	View(fn func(State) error) error
}

// ledger implements order storage on top of a State: pair-scoped sequences
// with a reserved sentinel slot at id 0, plus buyer, seller and ledger-wide
// indices.
type ledger struct {
	st State
}

func newLedger(st State) ledger { return ledger{st: st} }

// create appends a new order to the pair sequence and every index, returning
// the stored order.
func (l ledger) create(buyer, seller [20]byte, price *big.Int, now int64) (*Order, error) {
	count, err := l.st.PairCount(buyer, seller)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		// Reserve the sentinel slot.
		count = 1
	}
	order := &Order{
		Buyer:        buyer,
		Seller:       seller,
		ID:           count,
		Price:        cloneBigInt(price),
		CreatedAt:    now,
		Status:       OrderPaid,
		RefundStatus: RefundNone,
	}
	if err := l.st.OrderPut(order); err != nil {
		return nil, err
	}
	if err := l.st.SetPairCount(buyer, seller, count+1); err != nil {
		return nil, err
	}
	ref := order.Ref()
	if err := l.st.IndexAppend(RoleBuyer, buyer, ref); err != nil {
		return nil, err
	}
	if err := l.st.IndexAppend(RoleSeller, seller, ref); err != nil {
		return nil, err
	}
	if err := l.st.IndexAppend(RoleLedger, [20]byte{}, ref); err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// get resolves an order by its triple after validating the parties.
func (l ledger) get(buyer, seller [20]byte, id uint64) (*Order, error) {
	if err := validatePair(buyer, seller); err != nil {
		return nil, err
	}
	count, err := l.st.PairCount(buyer, seller)
	if err != nil {
		return nil, err
	}
	if id >= count {
		return nil, ErrInvalidID
	}
	if id == 0 {
		return nil, ErrOrderNotFound
	}
	order, ok, err := l.st.OrderGet(buyer, seller, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// put persists a mutated order after checking the transition tables against
// the stored version.
func (l ledger) put(before, after *Order) error {
	if err := checkTransition(before, after); err != nil {
		return err
	}
	if before.Price.Cmp(after.Price) != 0 {
		return ErrIllegalTransition
	}
	return l.st.OrderPut(after)
}

func (l ledger) countFor(party [20]byte, role Role) (uint64, error) {
	return l.st.IndexLen(role, party)
}

func (l ledger) at(party [20]byte, role Role, index uint64) (*Order, error) {
	ref, ok, err := l.st.IndexAt(role, party, index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidIndex
	}
	order, ok, err := l.st.OrderGet(ref.Buyer, ref.Seller, ref.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func validatePair(buyer, seller [20]byte) error {
	if buyer == ([20]byte{}) {
		return ErrInvalidBuyer
	}
	if seller == ([20]byte{}) {
		return ErrInvalidSeller
	}
	if buyer == seller {
		return ErrPartiesMatch
	}
	return nil
}
