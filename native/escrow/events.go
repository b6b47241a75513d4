package escrow

import (
	"math/big"
	"strconv"

	"janus/core/types"
	"janus/crypto"
)

const (
	EventTypeOrderPaid         = "escrow.order.paid"
	EventTypeOrderAccepted     = "escrow.order.accepted"
	EventTypeOrderWithdrawn    = "escrow.order.withdrawn"
	EventTypeRefundRequested   = "escrow.refund.requested"
	EventTypeRefundRevoked     = "escrow.refund.revoked"
	EventTypeRefundResolved    = "escrow.refund.resolved"
	EventTypeRefundWithdrawn   = "escrow.refund.withdrawn"
	EventTypePaused            = "escrow.paused"
	EventTypeUnpaused          = "escrow.unpaused"
	EventTypeNewOrdersPaused   = "escrow.new_orders.paused"
	EventTypeNewOrdersUnpaused = "escrow.new_orders.unpaused"
	EventTypeOwnerUpdated      = "escrow.owner.updated"
	EventTypeAccountCredited   = "escrow.account.credited"
	EventTypeLedgerInitialised = "escrow.ledger.initialised"
)

const (
	refundReasonExpired    = "acceptance_expired"
	refundReasonArbitrated = "arbitrated"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewOrderPaidEvent returns the canonical payload for a freshly paid order.
func NewOrderPaidEvent(o *Order) *types.Event {
	evt := newOrderEvent(EventTypeOrderPaid, o)
	evt.Attributes["price"] = formatAmount(o.Price)
	evt.Attributes["createdAt"] = strconv.FormatInt(o.CreatedAt, 10)
	return evt
}

// NewOrderAcceptedEvent returns the canonical payload emitted when the seller
// accepts an order.
func NewOrderAcceptedEvent(o *Order) *types.Event {
	evt := newOrderEvent(EventTypeOrderAccepted, o)
	evt.Attributes["acceptedAt"] = strconv.FormatInt(o.AcceptedAt, 10)
	return evt
}

// NewOrderWithdrawnEvent returns the payload for a seller collecting payment.
func NewOrderWithdrawnEvent(o *Order, payout, fee *big.Int) *types.Event {
	evt := newOrderEvent(EventTypeOrderWithdrawn, o)
	evt.Attributes["amount"] = formatAmount(payout)
	evt.Attributes["fee"] = formatAmount(fee)
	return evt
}

func NewRefundRequestedEvent(o *Order) *types.Event {
	return newOrderEvent(EventTypeRefundRequested, o)
}

func NewRefundRevokedEvent(o *Order) *types.Event {
	return newOrderEvent(EventTypeRefundRevoked, o)
}

// NewRefundResolvedEvent carries the arbiter's outcome.
func NewRefundResolvedEvent(o *Order) *types.Event {
	evt := newOrderEvent(EventTypeRefundResolved, o)
	evt.Attributes["outcome"] = o.RefundStatus.String()
	return evt
}

// NewRefundWithdrawnEvent returns the payload for the buyer recovering the
// custodied payment. The reason distinguishes an abandoned order from an
// arbitrated refund.
func NewRefundWithdrawnEvent(o *Order, amount *big.Int, reason string) *types.Event {
	evt := newOrderEvent(EventTypeRefundWithdrawn, o)
	evt.Attributes["amount"] = formatAmount(amount)
	evt.Attributes["reason"] = reason
	return evt
}

func NewPausedEvent(account [20]byte) *types.Event {
	return newAccountEvent(EventTypePaused, account)
}

func NewUnpausedEvent(account [20]byte) *types.Event {
	return newAccountEvent(EventTypeUnpaused, account)
}

func NewNewOrdersPausedEvent(account [20]byte) *types.Event {
	return newAccountEvent(EventTypeNewOrdersPaused, account)
}

func NewNewOrdersUnpausedEvent(account [20]byte) *types.Event {
	return newAccountEvent(EventTypeNewOrdersUnpaused, account)
}

// NewOwnerUpdatedEvent records an ownership transfer.
func NewOwnerUpdatedEvent(previous, owner [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeOwnerUpdated,
		Attributes: map[string]string{
			"previousOwner": crypto.FormatAddress(previous),
			"owner":         crypto.FormatAddress(owner),
		},
	}
}

// NewAccountCreditedEvent records funds entering the ledger.
func NewAccountCreditedEvent(account [20]byte, amount *big.Int) *types.Event {
	evt := newAccountEvent(EventTypeAccountCredited, account)
	evt.Attributes["amount"] = formatAmount(amount)
	return evt
}

// NewLedgerInitialisedEvent records the configuration chosen at genesis.
func NewLedgerInitialisedEvent(cfg *Config) *types.Event {
	evt := newAccountEvent(EventTypeLedgerInitialised, cfg.Owner)
	evt.Attributes["feeBps"] = strconv.FormatUint(uint64(cfg.Policy.FeeBps), 10)
	evt.Attributes["acceptanceWindow"] = strconv.FormatInt(cfg.Policy.AcceptanceWindow, 10)
	evt.Attributes["warrantyWindow"] = strconv.FormatInt(cfg.Policy.WarrantyWindow, 10)
	evt.Attributes["creationMarker"] = strconv.FormatInt(cfg.CreationMarker, 10)
	return evt
}

func newOrderEvent(eventType string, o *Order) *types.Event {
	attrs := map[string]string{}
	if o != nil {
		attrs["buyer"] = crypto.FormatAddress(o.Buyer)
		attrs["seller"] = crypto.FormatAddress(o.Seller)
		attrs["id"] = strconv.FormatUint(o.ID, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newAccountEvent(eventType string, account [20]byte) *types.Event {
	return &types.Event{
		Type:       eventType,
		Attributes: map[string]string{"account": crypto.FormatAddress(account)},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
