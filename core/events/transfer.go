package events

import (
	"math/big"
	"strconv"

	"janus/core/types"
	"janus/crypto"
)

const (
	// TypeTransfer is emitted for every balance movement in or out of custody.
	TypeTransfer = "transfer.native"
)

// Transfer describes a single balance movement. A zero From marks funds
// entering the ledger from the payment rail.
type Transfer struct {
	From    [20]byte
	To      [20]byte
	Amount  *big.Int
	Reason  string
	OrderID uint64
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if !zeroBytes(e.From[:]) {
		attrs["from"] = crypto.FormatAddress(e.From)
	}
	attrs["to"] = crypto.FormatAddress(e.To)
	attrs["amount"] = formatAmount(e.Amount)
	if reason := normalizeReason(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	if e.OrderID != 0 {
		attrs["id"] = strconv.FormatUint(e.OrderID, 10)
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
