package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/internal/testutil"
	"github.com/tolelom/bidchain/storage"
	"github.com/tolelom/bidchain/vm"
	"github.com/tolelom/bidchain/vm/modules/token"
	"github.com/tolelom/bidchain/wallet"
)

const chainID = "test-chain"

type harness struct {
	t      *testing.T
	state  *storage.StateDB
	exec   *vm.Executor
	nonces map[string]uint64
	events []events.Event

	seller, alice, bob *wallet.Wallet
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, state: testutil.NewStateDB(), nonces: map[string]uint64{}}
	emitter := events.NewEmitter()
	emitter.SubscribeAll(events.AuctionEvents, func(ev events.Event) { h.events = append(h.events, ev) })
	h.exec = vm.NewExecutor(h.state, emitter)

	for _, w := range []**wallet.Wallet{&h.seller, &h.alice, &h.bob} {
		var err error
		*w, err = wallet.Generate(chainID)
		require.NoError(t, err)
		require.NoError(t, h.state.SetAccount(&core.Account{Address: (*w).PubKey(), Balance: 1000}))
	}
	return h
}

// run signs a transaction built by build with w's next nonce and executes it
// in a block stamped now.
func (h *harness) run(now int64, w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) (*core.Transaction, *core.Receipt) {
	h.t.Helper()
	tx, err := build(h.nonces[w.PubKey()])
	require.NoError(h.t, err)
	block := core.NewBlock(1, "prev", w.PubKey(), now, []*core.Transaction{tx})
	r, err := h.exec.ExecuteTx(block, tx)
	require.NoError(h.t, err)
	h.nonces[w.PubKey()]++
	return tx, r
}

func (h *harness) mustRun(now int64, w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) *core.Transaction {
	h.t.Helper()
	tx, r := h.run(now, w, build)
	require.True(h.t, r.Succeeded(), "tx %s failed: %s", tx.Type, r.Error)
	return tx
}

func (h *harness) balance(addr string) uint64 {
	acc, err := h.state.GetAccount(addr)
	require.NoError(h.t, err)
	return acc.Balance
}

func (h *harness) createAuction(asset core.AuctionAsset) string {
	h.t.Helper()
	tx := h.mustRun(0, h.seller, func(n uint64) (*core.Transaction, error) {
		return h.seller.CreateAuction(core.CreateAuctionPayload{
			Name:      "painting",
			Increment: 10,
			Start:     100,
			End:       200,
			Asset:     asset,
		}, n, 0)
	})
	return IDFor(tx.ID)
}

func (h *harness) bid(now int64, w *wallet.Wallet, id string, amount uint64) *core.Receipt {
	h.t.Helper()
	_, r := h.run(now, w, func(n uint64) (*core.Transaction, error) { return w.PlaceBid(id, amount, n, 0) })
	return r
}

func (h *harness) op(now int64, w *wallet.Wallet, typ core.TxType, id string) *core.Receipt {
	h.t.Helper()
	_, r := h.run(now, w, func(n uint64) (*core.Transaction, error) { return w.AuctionTx(typ, id, n, 0) })
	return r
}

func TestNativeAuctionLifecycle(t *testing.T) {
	h := newHarness(t)
	id := h.createAuction(core.AuctionAsset{Kind: core.AssetNative})

	require.True(t, h.bid(100, h.alice, id, 50).Succeeded())
	require.True(t, h.bid(110, h.bob, id, 70).Succeeded())
	assert.Equal(t, uint64(950), h.balance(h.alice.PubKey()))
	assert.Equal(t, uint64(120), h.balance(id))

	r := h.bid(120, h.alice, id, 15)
	assert.Equal(t, core.ReceiptFailed, r.Status)
	assert.Equal(t, "bid_too_low", r.Code)
	assert.Equal(t, uint64(950), h.balance(h.alice.PubKey()))

	require.True(t, h.bid(130, h.alice, id, 25).Succeeded())

	a, err := h.state.GetAuction(id)
	require.NoError(t, err)
	assert.Equal(t, h.alice.PubKey(), a.HighestBidder)
	assert.Equal(t, uint64(75), a.HighestBid)
	assert.Equal(t, uint64(75), a.HighestBindingBid)

	assert.Equal(t, "invalid_timing", h.op(150, h.seller, core.TxFinalizeAuction, id).Code)
	assert.Equal(t, "unauthorized", h.op(200, h.bob, core.TxFinalizeAuction, id).Code)
	require.True(t, h.op(200, h.seller, core.TxFinalizeAuction, id).Succeeded())
	assert.Equal(t, uint64(1075), h.balance(h.seller.PubKey()))

	require.True(t, h.op(210, h.bob, core.TxWithdrawBid, id).Succeeded())
	assert.Equal(t, uint64(1000), h.balance(h.bob.PubKey()))
	assert.Equal(t, "nothing_to_withdraw", h.op(220, h.bob, core.TxWithdrawBid, id).Code)
	assert.Zero(t, h.balance(id))

	var types []events.EventType
	for _, ev := range h.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.EventType{
		events.EventAuctionCreated,
		events.EventBidPlaced,
		events.EventBidPlaced,
		events.EventBidPlaced,
		events.EventAuctionFinalized,
		events.EventBidWithdrawn,
	}, types)
	fin := h.events[4]
	assert.Equal(t, h.alice.PubKey(), fin.Data["winner"])
	assert.Equal(t, uint64(75), fin.Data["amount_paid"])
}

func TestNativeBidWindowAndSeller(t *testing.T) {
	h := newHarness(t)
	id := h.createAuction(core.AuctionAsset{Kind: core.AssetNative})

	assert.Equal(t, "invalid_timing", h.bid(99, h.alice, id, 50).Code)
	assert.Equal(t, "unauthorized", h.bid(100, h.seller, id, 50).Code)
	assert.True(t, h.bid(100, h.alice, id, 50).Succeeded())
	assert.Equal(t, "invalid_timing", h.bid(200, h.bob, id, 100).Code)

	// Insufficient native balance surfaces as an asset failure.
	assert.Equal(t, "asset_transfer_failed", h.bid(150, h.bob, id, 5000).Code)
}

func TestCancelRefundsLeaderThroughChain(t *testing.T) {
	h := newHarness(t)
	id := h.createAuction(core.AuctionAsset{Kind: core.AssetNative})
	require.True(t, h.bid(100, h.alice, id, 50).Succeeded())
	require.True(t, h.bid(110, h.bob, id, 70).Succeeded())

	assert.Equal(t, "unauthorized", h.op(120, h.alice, core.TxCancelAuction, id).Code)
	require.True(t, h.op(120, h.seller, core.TxCancelAuction, id).Succeeded())
	assert.Equal(t, uint64(1000), h.balance(h.bob.PubKey()))
	assert.Equal(t, uint64(950), h.balance(h.alice.PubKey()))

	assert.Equal(t, "invalid_state", h.bid(130, h.alice, id, 100).Code)
	require.True(t, h.op(130, h.alice, core.TxWithdrawBid, id).Succeeded())
	assert.Equal(t, uint64(1000), h.balance(h.alice.PubKey()))
	assert.Zero(t, h.balance(id))
}

func TestTokenAuctionRequiresAllowance(t *testing.T) {
	h := newHarness(t)

	mint := h.mustRun(0, h.alice, func(n uint64) (*core.Transaction, error) {
		return h.alice.CreateToken(core.CreateTokenPayload{Symbol: "GLD", Name: "Gold", Decimals: 2, Supply: 1000}, n, 0)
	})
	tokenID := token.IDFor(mint.ID, "GLD")
	h.mustRun(0, h.alice, func(n uint64) (*core.Transaction, error) {
		return h.alice.TokenTransfer(tokenID, h.bob.PubKey(), 500, n, 0)
	})

	id := h.createAuction(core.AuctionAsset{Kind: core.AssetToken, TokenID: tokenID})

	r := h.bid(100, h.bob, id, 40)
	assert.Equal(t, "asset_transfer_failed", r.Code)
	got, err := h.state.GetBid(id, h.bob.PubKey())
	require.NoError(t, err)
	assert.Zero(t, got)

	approve := func(w *wallet.Wallet) {
		h.mustRun(100, w, func(n uint64) (*core.Transaction, error) { return w.Approve(tokenID, id, 100, n, 0) })
	}
	approve(h.bob)
	approve(h.alice)

	require.True(t, h.bid(100, h.bob, id, 40).Succeeded())
	require.True(t, h.bid(110, h.alice, id, 60).Succeeded())

	a, err := h.state.GetAuction(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), a.HighestBindingBid)

	escrowed, err := token.BalanceOf(h.state, tokenID, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), escrowed)
	left, err := token.Allowance(h.state, tokenID, h.bob.PubKey(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), left)

	require.True(t, h.op(150, h.seller, core.TxEndAuctionEarly, id).Succeeded())
	require.True(t, h.op(160, h.bob, core.TxWithdrawBid, id).Succeeded())

	for addr, want := range map[string]uint64{
		h.seller.PubKey(): 50,
		h.alice.PubKey():  450,
		h.bob.PubKey():    500,
		id:                0,
	} {
		bal, err := token.BalanceOf(h.state, tokenID, addr)
		require.NoError(t, err)
		assert.Equal(t, want, bal, "token balance of %s", addr)
	}
	// Native balances are untouched by a token auction.
	assert.Equal(t, uint64(1000), h.balance(h.bob.PubKey()))
}

func TestCreateAuctionValidation(t *testing.T) {
	h := newHarness(t)
	cases := []core.CreateAuctionPayload{
		{Name: "", Increment: 10, Start: 100, End: 200, Asset: core.AuctionAsset{Kind: core.AssetNative}},
		{Name: "x", Increment: 0, Start: 100, End: 200, Asset: core.AuctionAsset{Kind: core.AssetNative}},
		{Name: "x", Increment: 10, Start: 200, End: 200, Asset: core.AuctionAsset{Kind: core.AssetNative}},
		{Name: "x", Increment: 10, Start: 100, End: 200, Asset: core.AuctionAsset{Kind: core.AssetToken, TokenID: "missing"}},
		{Name: "x", Increment: 10, Start: 100, End: 200, Asset: core.AuctionAsset{Kind: "barter"}},
	}
	for _, p := range cases {
		_, r := h.run(0, h.seller, func(n uint64) (*core.Transaction, error) { return h.seller.CreateAuction(p, n, 0) })
		assert.Equal(t, core.ReceiptFailed, r.Status, "payload %+v", p)
		assert.Equal(t, vm.CodeFailed, r.Code)
	}
	auctions, err := h.state.Auctions()
	require.NoError(t, err)
	assert.Empty(t, auctions)

	assert.Equal(t, vm.CodeFailed, h.bid(100, h.alice, "no-such-auction", 50).Code)
}
