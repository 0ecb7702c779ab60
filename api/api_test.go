package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/directory"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/indexer"
	"github.com/tolelom/bidchain/internal/testutil"
	"github.com/tolelom/bidchain/logdb"
	"github.com/tolelom/bidchain/storage"
	"github.com/tolelom/bidchain/vm"
	"github.com/tolelom/bidchain/vm/modules/market"
	"github.com/tolelom/bidchain/wallet"
)

const chainID = "api-test"

type env struct {
	t       *testing.T
	state   *storage.StateDB
	exec    *vm.Executor
	emitter *events.Emitter
	server  *Server
	http    *httptest.Server
	now     int64
	height  int64
	nonces  map[string]uint64
	seller  *wallet.Wallet
	bidder  *wallet.Wallet
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewMemDB()
	e := &env{t: t, state: storage.NewStateDB(db), emitter: events.NewEmitter(), nonces: map[string]uint64{}}
	logs, err := logdb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = logs.Close() })
	logs.Attach(e.emitter)
	idx := indexer.New(db, e.emitter)
	e.exec = vm.NewExecutor(e.state, e.emitter)

	bc := core.NewBlockchain(testutil.NewMemBlockStore())
	require.NoError(t, bc.Init())
	e.server = NewServer("127.0.0.1:0", &Backend{
		Chain:          bc,
		State:          e.state,
		Directory:      directory.New(e.state, func() int64 { return e.now }),
		Indexer:        idx,
		Logs:           logs,
		NativeSymbol:   "BID",
		NativeDecimals: 6,
	}, e.emitter)
	e.http = httptest.NewServer(e.server.Router())
	t.Cleanup(func() {
		e.server.hub.Close()
		e.http.Close()
	})

	for _, w := range []**wallet.Wallet{&e.seller, &e.bidder} {
		*w, err = wallet.Generate(chainID)
		require.NoError(t, err)
		require.NoError(t, e.state.SetAccount(&core.Account{Address: (*w).PubKey(), Balance: 10_000_000}))
	}
	return e
}

func (e *env) commit(now int64, w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) string {
	e.t.Helper()
	tx, err := build(e.nonces[w.PubKey()])
	require.NoError(e.t, err)
	e.nonces[w.PubKey()]++
	e.height++
	e.now = now
	b := core.NewBlock(e.height, "prev", w.PubKey(), now, []*core.Transaction{tx})
	receipts, err := e.exec.ExecuteBlock(b)
	require.NoError(e.t, err)
	require.True(e.t, receipts[0].Succeeded(), receipts[0].Error)
	e.emitter.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: e.height, Data: map[string]any{"hash": "h"}})
	return tx.ID
}

func (e *env) createAuction() string {
	txID := e.commit(10, e.seller, func(n uint64) (*core.Transaction, error) {
		return e.seller.CreateAuction(core.CreateAuctionPayload{
			Name: "clock", MinBid: 1_000_000, Increment: 250_000, Start: 100, End: 200,
			Asset: core.AuctionAsset{Kind: core.AssetNative},
		}, n, 0)
	})
	return market.IDFor(txID)
}

func (e *env) get(path string, out any) int {
	e.t.Helper()
	res, err := http.Get(e.http.URL + path)
	require.NoError(e.t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(e.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestAuctionEndpoints(t *testing.T) {
	e := newEnv(t)
	id := e.createAuction()
	e.commit(150, e.bidder, func(n uint64) (*core.Transaction, error) { return e.bidder.PlaceBid(id, 1_500_000, n, 0) })

	var view struct {
		ID       string     `json:"id"`
		Phase    core.Phase `json:"phase"`
		IsActive bool       `json:"is_active"`
		Display  Amounts    `json:"display"`
	}
	require.Equal(t, http.StatusOK, e.get("/auctions/"+id, &view))
	assert.Equal(t, id, view.ID)
	assert.Equal(t, core.PhaseActive, view.Phase)
	assert.True(t, view.IsActive)
	assert.Equal(t, Amounts{Symbol: "BID", MinBid: "1", Increment: "0.25", HighestBid: "1.5", BindingBid: "1.5"}, view.Display)

	var active []map[string]any
	require.Equal(t, http.StatusOK, e.get("/auctions/active", &active))
	require.Len(t, active, 1)

	var bids []BidView
	require.Equal(t, http.StatusOK, e.get("/auctions/"+id+"/bids", &bids))
	assert.Equal(t, []BidView{{Bidder: e.bidder.PubKey(), Amount: 1_500_000, Display: "1.5"}}, bids)

	var bid BidView
	require.Equal(t, http.StatusOK, e.get("/auctions/"+id+"/bids/"+e.seller.PubKey(), &bid))
	assert.Zero(t, bid.Amount)

	var history []logdb.Event
	require.Equal(t, http.StatusOK, e.get("/auctions/"+id+"/events?order=desc&limit=1", &history))
	require.Len(t, history, 1)
	assert.Equal(t, events.EventBidPlaced, history[0].Type)

	var ids []string
	require.Equal(t, http.StatusOK, e.get("/bidders/"+e.bidder.PubKey()+"/auctions", &ids))
	assert.Equal(t, []string{id}, ids)
	require.Equal(t, http.StatusOK, e.get("/sellers/"+e.seller.PubKey()+"/auctions", &ids))
	assert.Equal(t, []string{id}, ids)

	assert.Equal(t, http.StatusNotFound, e.get("/auctions/unknown", nil))
	assert.Equal(t, http.StatusNotFound, e.get("/auctions/unknown/events", nil))
	assert.Equal(t, http.StatusBadRequest, e.get("/auctions/"+id+"/events?order=sideways", nil))
	assert.Equal(t, http.StatusOK, e.get("/health", nil))
	assert.Equal(t, http.StatusOK, e.get("/metrics", nil))
}

func TestWebsocketStreamsCommittedEvents(t *testing.T) {
	e := newEnv(t)
	id := e.createAuction()

	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/events/ws?auction=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.server.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Events of a reverted block never reach subscribers.
	e.emitter.Emit(events.Event{Type: events.EventBidPlaced, BlockHeight: e.height + 1, Data: map[string]any{"auction_id": id}})
	e.emitter.Emit(events.Event{Type: events.EventBlockReverted, BlockHeight: e.height + 1})

	e.commit(150, e.bidder, func(n uint64) (*core.Transaction, error) { return e.bidder.PlaceBid(id, 1_500_000, n, 0) })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.EventBidPlaced, ev.Type)
	assert.Equal(t, id, ev.Data["auction_id"])
	assert.Equal(t, e.bidder.PubKey(), ev.Data["bidder"])
	assert.EqualValues(t, 1_500_000, ev.Data["amount"])
}
