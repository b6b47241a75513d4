package state

import (
	"encoding/binary"

	"janus/native/escrow"
)

var (
	accountPrefix       = []byte("account/")
	escrowOrderPrefix   = []byte("escrow/order/")
	escrowPairPrefix    = []byte("escrow/pair/")
	escrowIndexPrefix   = []byte("escrow/index/")
	escrowCustodyPrefix = []byte("escrow/custody/")
	escrowConfigKey     = []byte("escrow/config")
)

func concat(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// AccountKey returns the unhashed key of an account record.
func AccountKey(addr [20]byte) []byte {
	return concat(accountPrefix, addr[:])
}

// EscrowOrderKey returns the key of the order addressed by the triple.
func EscrowOrderKey(buyer, seller [20]byte, id uint64) []byte {
	return concat(escrowOrderPrefix, buyer[:], seller[:], uint64Bytes(id))
}

// EscrowPairKey returns the key of the per-pair order counter.
func EscrowPairKey(buyer, seller [20]byte) []byte {
	return concat(escrowPairPrefix, buyer[:], seller[:])
}

func EscrowIndexLenKey(role escrow.Role, party [20]byte) []byte {
	return concat(escrowIndexPrefix, []byte{byte(role)}, party[:], []byte("/len"))
}

func EscrowIndexEntryKey(role escrow.Role, party [20]byte, i uint64) []byte {
	return concat(escrowIndexPrefix, []byte{byte(role)}, party[:], []byte("/"), uint64Bytes(i))
}

// EscrowCustodyKey returns the key of the custody record of an order.
func EscrowCustodyKey(ref escrow.OrderRef) []byte {
	return concat(escrowCustodyPrefix, ref.Buyer[:], ref.Seller[:], uint64Bytes(ref.ID))
}

func EscrowConfigKey() []byte {
	return append([]byte(nil), escrowConfigKey...)
}
