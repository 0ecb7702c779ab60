package market

import (
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/events"
)

func TestMetricsCountCommittedBlocksOnly(t *testing.T) {
	emitter := events.NewEmitter()
	AttachMetrics(emitter)

	bids := promtest.ToFloat64(bidsAcceptedCounter)
	created := promtest.ToFloat64(auctionsCreatedCounter)
	tooLow := promtest.ToFloat64(rejectionsCounter.WithLabelValues(string(core.TxPlaceBid), "bid_too_low"))
	transfers := promtest.ToFloat64(rejectionsCounter.WithLabelValues(string(core.TxTransfer), "failed"))

	// Block 1 executes and is reverted: nothing counts.
	emitter.Emit(events.Event{Type: events.EventAuctionCreated, BlockHeight: 1})
	emitter.Emit(events.Event{Type: events.EventBidPlaced, BlockHeight: 1})
	emitter.Emit(events.Event{Type: events.EventBlockReverted, BlockHeight: 1})
	emitter.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: 1})
	assert.Equal(t, bids, promtest.ToFloat64(bidsAcceptedCounter))
	assert.Equal(t, created, promtest.ToFloat64(auctionsCreatedCounter))

	// Block 1 again, this time committed.
	emitter.Emit(events.Event{Type: events.EventAuctionCreated, BlockHeight: 1})
	emitter.Emit(events.Event{Type: events.EventBidPlaced, BlockHeight: 1})
	emitter.Emit(events.Event{Type: events.EventTxFailed, BlockHeight: 1, Data: map[string]any{
		"type": string(core.TxPlaceBid), "code": "bid_too_low",
	}})
	emitter.Emit(events.Event{Type: events.EventTxFailed, BlockHeight: 1, Data: map[string]any{
		"type": string(core.TxTransfer), "code": "failed",
	}})
	assert.Equal(t, bids, promtest.ToFloat64(bidsAcceptedCounter), "counted before commit")

	emitter.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: 1})
	assert.Equal(t, bids+1, promtest.ToFloat64(bidsAcceptedCounter))
	assert.Equal(t, created+1, promtest.ToFloat64(auctionsCreatedCounter))
	assert.Equal(t, tooLow+1, promtest.ToFloat64(rejectionsCounter.WithLabelValues(string(core.TxPlaceBid), "bid_too_low")))
	assert.Equal(t, transfers, promtest.ToFloat64(rejectionsCounter.WithLabelValues(string(core.TxTransfer), "failed")))
}
