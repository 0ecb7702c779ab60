package logdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/events"
)

func TestRecordsCommittedBlocks(t *testing.T) {
	db, err := NewMem()
	require.NoError(t, err)
	defer db.Close()

	emitter := events.NewEmitter()
	db.Attach(emitter)

	emitter.Emit(events.Event{Type: events.EventBidPlaced, TxID: "t1", BlockHeight: 1,
		Data: map[string]any{"auction_id": "a1", "bidder": "alice", "amount": uint64(50)}})
	emitter.Emit(events.Event{Type: events.EventTxExecuted, TxID: "t1", BlockHeight: 1,
		Data: map[string]any{"type": "place_bid", "from": "alice"}})
	emitter.Emit(events.Event{Type: events.EventTxFailed, TxID: "t2", BlockHeight: 1,
		Data: map[string]any{"type": "place_bid", "from": "bob", "code": "bid_too_low", "error": "bid too low: x"}})
	// Left over from an abandoned block; must not be written.
	emitter.Emit(events.Event{Type: events.EventBidPlaced, TxID: "t9", BlockHeight: 7,
		Data: map[string]any{"auction_id": "a1", "bidder": "mallory"}})
	emitter.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: 1, Data: map[string]any{"hash": "h1"}})

	ctx := context.Background()
	evs, err := db.FilterEvents(ctx, &EventFilter{AuctionID: "a1"})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventBidPlaced, evs[0].Type)
	assert.Equal(t, "alice", evs[0].Actor)
	assert.Equal(t, "h1", evs[0].BlockHash)
	assert.JSONEq(t, `{"auction_id":"a1","bidder":"alice","amount":50}`, string(evs[0].Data))

	r, err := db.Receipt(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, core.ReceiptFailed, r.Status)
	assert.Equal(t, "bid_too_low", r.Code)
	assert.Equal(t, core.TxPlaceBid, r.Type)

	r, err = db.Receipt(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, r.Succeeded())

	_, err = db.Receipt(ctx, "t9")
	assert.ErrorIs(t, err, core.ErrNotFound)

	all, err := db.FilterEvents(ctx, &EventFilter{Types: []events.EventType{events.EventTxFailed, events.EventTxExecuted}, Order: DESC})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, events.EventTxFailed, all[0].Type)
}
