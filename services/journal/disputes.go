package journal

import (
	"context"
	"sort"
	"strconv"

	"janus/native/escrow"
)

// PendingRefund is a refund request the arbiter has not resolved yet.
type PendingRefund struct {
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	ID          uint64 `json:"id"`
	RequestedAt int64  `json:"requestedAt"`
	Sequence    uint64 `json:"sequence"`
}

type disputeKey struct {
	buyer, seller, id string
}

// PendingRefunds replays the refund events of the journal and returns the
// requests that were neither revoked nor resolved, oldest first.
func (j *Journal) PendingRefunds(ctx context.Context) ([]PendingRefund, error) {
	const query = `SELECT sequence, type, attributes, timestamp, prev_hash, hash FROM journal_entries
        WHERE type IN (?, ?, ?, ?) ORDER BY sequence ASC`
	rows, err := j.db.QueryContext(ctx, query,
		escrow.EventTypeRefundRequested,
		escrow.EventTypeRefundRevoked,
		escrow.EventTypeRefundResolved,
		escrow.EventTypeRefundWithdrawn,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	open := make(map[disputeKey]PendingRefund)
	for rows.Next() {
		entry, _, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		key := disputeKey{
			buyer:  entry.Attributes["buyer"],
			seller: entry.Attributes["seller"],
			id:     entry.Attributes["id"],
		}
		if entry.Type != escrow.EventTypeRefundRequested {
			delete(open, key)
			continue
		}
		id, err := strconv.ParseUint(key.id, 10, 64)
		if err != nil {
			continue
		}
		open[key] = PendingRefund{
			Buyer:       key.buyer,
			Seller:      key.seller,
			ID:          id,
			RequestedAt: entry.Timestamp,
			Sequence:    entry.Sequence,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]PendingRefund, 0, len(open))
	for _, pending := range open {
		out = append(out, pending)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Sequence < out[b].Sequence })
	return out, nil
}
