package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"janus/core/events"
)

type namedEvent string

func (n namedEvent) EventType() string { return string(n) }

func TestEscrowMetricsCountEvents(t *testing.T) {
	m := Escrow()
	before := testutil.ToFloat64(m.events.WithLabelValues("escrow.order.paid"))
	m.Emit(namedEvent("escrow.order.paid"))
	m.Emit(namedEvent("escrow.order.paid"))
	require.Equal(t, before+2, testutil.ToFloat64(m.events.WithLabelValues("escrow.order.paid")))

	volume := testutil.ToFloat64(m.volume.WithLabelValues("order.paid"))
	m.Emit(events.Transfer{From: [20]byte{1}, To: [20]byte{2}, Amount: big.NewInt(40), Reason: "Order.Paid"})
	require.Equal(t, volume+40, testutil.ToFloat64(m.volume.WithLabelValues("order.paid")))
}

func TestEscrowMetricsObserve(t *testing.T) {
	m := Escrow()
	before := testutil.ToFloat64(m.operations.WithLabelValues("buy", "ok"))
	m.Observe("buy", "", 5*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.operations.WithLabelValues("buy", "ok")))

	var nilMetrics *escrowMetrics
	nilMetrics.Observe("buy", "", time.Second)
	nilMetrics.Emit(namedEvent("x"))
}

func TestJournalAndIdempotencyMetrics(t *testing.T) {
	j := Journal()
	j.RecordAppend(17)
	require.Equal(t, float64(17), testutil.ToFloat64(j.lag))
	before := testutil.ToFloat64(j.failures.WithLabelValues("verify"))
	j.RecordFailure("verify")
	require.Equal(t, before+1, testutil.ToFloat64(j.failures.WithLabelValues("verify")))

	i := Idempotency()
	hits := testutil.ToFloat64(i.lookups.WithLabelValues("hit"))
	i.RecordLookup("hit")
	require.Equal(t, hits+1, testutil.ToFloat64(i.lookups.WithLabelValues("hit")))
}
