package escrow

import (
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"janus/core/events"
	"janus/core/types"
)

// MaxPageSize bounds a single enumeration call.
const MaxPageSize = 100

// VaultAddress is the account holding every custodied payment.
var VaultAddress = func() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("janus/escrow/vault"))[12:])
	return addr
}()

// Engine wires the order and refund state machines with a storage backend and
// an event emitter. Every mutation runs as one atomic unit under the engine
// lock; events are emitted only after the unit commits.
type Engine struct {
	mu               sync.RWMutex
	backend          Backend
	emitter          events.Emitter
	nowFn            func() int64
	pauseBlocksReads bool
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine(backend Backend) *Engine {
	return &Engine{
		backend: backend,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauseBlocksReads decides whether the global pause also rejects reads.
func (e *Engine) SetPauseBlocksReads(block bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseBlocksReads = block
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// unit is the context handed to a single atomic operation.
type unit struct {
	st     State
	ledger ledger
	cfg    *Config
	now    int64
	events []events.Event
}

func (u *unit) emit(evt *types.Event) {
	if evt == nil {
		return
	}
	u.events = append(u.events, escrowEvent{evt: evt})
}

func (u *unit) requireOwner(caller [20]byte) error {
	if caller != u.cfg.Owner {
		return unauthorizedAccount(caller)
	}
	return nil
}

func (u *unit) whenNotPaused() error {
	if u.cfg.Paused {
		return ErrPaused
	}
	return nil
}

// move transfers amount between two ledger accounts.
func (u *unit) move(from, to [20]byte, amount *big.Int, reason string, id uint64) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromAcc, err := u.st.GetAccount(from)
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Clone()
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance.Sub(fromAcc.Balance, amt)
	if err := u.st.PutAccount(from, fromAcc); err != nil {
		return err
	}
	toAcc, err := u.st.GetAccount(to)
	if err != nil {
		return err
	}
	toAcc = toAcc.Clone()
	toAcc.Balance.Add(toAcc.Balance, amt)
	if err := u.st.PutAccount(to, toAcc); err != nil {
		return err
	}
	u.events = append(u.events, events.Transfer{From: from, To: to, Amount: amt, Reason: reason, OrderID: id})
	return nil
}

// release empties the custody record of an order and returns the amount. It
// is the single point where funds leave custody.
func (u *unit) release(o *Order) (*big.Int, error) {
	held, err := u.st.CustodyGet(o.Ref())
	if err != nil {
		return nil, err
	}
	if held == nil || held.Sign() == 0 {
		return nil, ErrCustodyReleased
	}
	if held.Cmp(o.Price) != 0 {
		return nil, ErrIllegalTransition
	}
	if err := u.st.CustodyPut(o.Ref(), big.NewInt(0)); err != nil {
		return nil, err
	}
	return held, nil
}

func (e *Engine) loadUnit(st State) (*unit, error) {
	cfg, ok, err := st.ConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotBootstrapped
	}
	return &unit{st: st, ledger: newLedger(st), cfg: cfg, now: e.now()}, nil
}

// update runs fn as one atomic unit and emits the collected events once the
// backend has committed.
func (e *Engine) update(fn func(*unit) error) error {
	if e == nil || e.backend == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var pending []events.Event
	err := e.backend.Update(func(st State) error {
		u, err := e.loadUnit(st)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		pending = u.events
		return nil
	})
	if err != nil {
		return err
	}
	for _, evt := range pending {
		e.emitter.Emit(evt)
	}
	return nil
}

// view runs fn against a read-only snapshot.
func (e *Engine) view(fn func(*unit) error) error {
	if e == nil || e.backend == nil {
		return errNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backend.View(func(st State) error {
		u, err := e.loadUnit(st)
		if err != nil {
			return err
		}
		return fn(u)
	})
}

// Bootstrap initialises the configuration record on first start. When the
// record already exists the stored policy must match the requested one; the
// stored owner and pause flags win over the genesis values.
func (e *Engine) Bootstrap(genesis Genesis) (*Config, error) {
	if e == nil || e.backend == nil {
		return nil, errNilState
	}
	if err := genesis.Policy.Validate(); err != nil {
		return nil, err
	}
	if genesis.Owner == ([20]byte{}) {
		return nil, ErrInvalidOwner
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		result  *Config
		created bool
	)
	err := e.backend.Update(func(st State) error {
		existing, ok, err := st.ConfigGet()
		if err != nil {
			return err
		}
		if ok {
			if existing.Policy != genesis.Policy {
				return errPolicyChanged(existing.Policy, genesis.Policy)
			}
			result = existing.Clone()
			return nil
		}
		cfg := &Config{
			Owner:          genesis.Owner,
			FeeTreasury:    genesis.FeeTreasury,
			Policy:         genesis.Policy,
			CreationMarker: e.now(),
		}
		if err := st.ConfigPut(cfg); err != nil {
			return err
		}
		result = cfg.Clone()
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		e.emitter.Emit(escrowEvent{evt: NewLedgerInitialisedEvent(result)})
	}
	return result, nil
}

// Buy creates a new order paid by the caller. The attached payment must equal
// the price exactly and is moved from the caller's balance into custody.
func (e *Engine) Buy(caller, seller [20]byte, price, payment *big.Int) (*Order, error) {
	var created *Order
	err := e.update(func(u *unit) error {
		if err := u.whenNotPaused(); err != nil {
			return err
		}
		if u.cfg.NewOrdersPaused {
			return ErrNewOrdersPaused
		}
		if err := validatePair(caller, seller); err != nil {
			return err
		}
		if price == nil || price.Sign() <= 0 {
			return ErrInvalidPrice
		}
		if payment == nil || payment.Cmp(price) != 0 {
			return ErrIncorrectPayment
		}
		order, err := u.ledger.create(caller, seller, price, u.now)
		if err != nil {
			return err
		}
		if err := u.st.CustodyPut(order.Ref(), order.Price); err != nil {
			return err
		}
		if err := u.move(caller, VaultAddress, order.Price, "order.paid", order.ID); err != nil {
			return err
		}
		u.emit(NewOrderPaidEvent(order))
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Sell accepts a paid order on behalf of the caller acting as seller. The
// supplied price must match the stored price and the acceptance window must
// still be open.
func (e *Engine) Sell(caller, buyer [20]byte, id uint64, price *big.Int) (*Order, error) {
	var accepted *Order
	err := e.update(func(u *unit) error {
		if err := u.whenNotPaused(); err != nil {
			return err
		}
		order, err := u.ledger.get(buyer, caller, id)
		if err != nil {
			return err
		}
		switch order.RefundStatus {
		case RefundRequested:
			return ErrRefundPending
		case RefundAccepted:
			return ErrRefundGranted
		case RefundDeclined:
			return ErrRefundDenied
		}
		switch order.Status {
		case OrderAccepted:
			return ErrOrderAlreadyAccepted
		case OrderCompleted:
			return ErrOrderCompleted
		}
		if price == nil || order.Price.Cmp(price) != 0 {
			return ErrPriceMismatch
		}
		if u.now > u.cfg.Policy.acceptanceDeadline(order) {
			return ErrAcceptanceExpired
		}
		next := order.Clone()
		next.Status = OrderAccepted
		next.AcceptedAt = u.now
		if err := u.ledger.put(order, next); err != nil {
			return err
		}
		u.emit(NewOrderAcceptedEvent(next))
		accepted = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// WithdrawOrder pays the seller once the warranty window has elapsed without
// an open or granted refund. The service fee is routed to the fee treasury.
func (e *Engine) WithdrawOrder(caller, buyer [20]byte, id uint64) (*Order, error) {
	var completed *Order
	err := e.update(func(u *unit) error {
		if err := u.whenNotPaused(); err != nil {
			return err
		}
		order, err := u.ledger.get(buyer, caller, id)
		if err != nil {
			return err
		}
		switch order.Status {
		case OrderPaid:
			return ErrOrderNotAccepted
		case OrderCompleted:
			return ErrOrderCompleted
		}
		switch order.RefundStatus {
		case RefundRequested:
			return ErrRefundPending
		case RefundAccepted:
			return ErrRefundGranted
		}
		if u.now < u.cfg.Policy.warrantyDeadline(order) {
			return ErrWarrantyActive
		}
		next := order.Clone()
		next.Status = OrderCompleted
		if err := u.ledger.put(order, next); err != nil {
			return err
		}
		held, err := u.release(order)
		if err != nil {
			return err
		}
		fee, payout := u.cfg.Policy.Split(held)
		if err := u.move(VaultAddress, next.Seller, payout, "order.withdrawn", next.ID); err != nil {
			return err
		}
		if err := u.move(VaultAddress, u.cfg.treasury(), fee, "order.fee", next.ID); err != nil {
			return err
		}
		u.emit(NewOrderWithdrawnEvent(next, payout, fee))
		completed = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// Deposit credits funds arriving from the payment rail to an account.
func (e *Engine) Deposit(to [20]byte, amount *big.Int) (*big.Int, error) {
	if to == ([20]byte{}) {
		return nil, ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var balance *big.Int
	err := e.update(func(u *unit) error {
		if err := u.whenNotPaused(); err != nil {
			return err
		}
		acc, err := u.st.GetAccount(to)
		if err != nil {
			return err
		}
		acc = acc.Clone()
		acc.Balance.Add(acc.Balance, amount)
		if err := u.st.PutAccount(to, acc); err != nil {
			return err
		}
		u.events = append(u.events, events.Transfer{To: to, Amount: cloneBigInt(amount), Reason: "deposit"})
		u.emit(NewAccountCreditedEvent(to, amount))
		balance = new(big.Int).Set(acc.Balance)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}
