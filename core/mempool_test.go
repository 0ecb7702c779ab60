package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/wallet"
)

func TestMempoolAdd(t *testing.T) {
	mp := core.NewMempool("test-chain")
	w, err := wallet.Generate("test-chain")
	require.NoError(t, err)

	tx, err := w.Transfer("deadbeef", 1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, mp.Add(tx))
	assert.ErrorIs(t, mp.Add(tx), core.ErrDuplicateTx)
	assert.Equal(t, 1, mp.Size())

	other, err := wallet.Generate("other-chain")
	require.NoError(t, err)
	foreign, err := other.Transfer("deadbeef", 1, 0, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, mp.Add(foreign), core.ErrWrongChain)

	tampered := *tx
	tampered.Fee = 99
	tampered.ID = "tampered"
	assert.Error(t, mp.Add(&tampered))

	pending := mp.Pending(10)
	require.Len(t, pending, 1)
	mp.Remove([]string{pending[0].ID})
	assert.Zero(t, mp.Size())
}

func TestTransactionSignVerify(t *testing.T) {
	w, err := wallet.Generate("test-chain")
	require.NoError(t, err)
	tx, err := w.CreateAuction(core.CreateAuctionPayload{Name: "lot", Increment: 1, Start: 1, End: 2,
		Asset: core.AuctionAsset{Kind: core.AssetNative}}, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, tx.ID)
	require.NoError(t, tx.Verify())

	forged := *tx
	forged.ID = "chosen-by-sender"
	assert.Error(t, forged.Verify())

	tx.Nonce = 7
	assert.Error(t, tx.Verify())
}

func TestMempoolNonceOrderAndReplacement(t *testing.T) {
	mp := core.NewMempool("test-chain")
	alice, err := wallet.Generate("test-chain")
	require.NoError(t, err)
	bob, err := wallet.Generate("test-chain")
	require.NoError(t, err)

	bid := func(w *wallet.Wallet, nonce, fee uint64) *core.Transaction {
		tx, err := w.PlaceBid("lot", 10, nonce, fee)
		require.NoError(t, err)
		return tx
	}
	a1 := bid(alice, 1, 1)
	b0 := bid(bob, 0, 1)
	a0 := bid(alice, 0, 1)
	for _, tx := range []*core.Transaction{a1, b0, a0} {
		require.NoError(t, mp.Add(tx))
	}

	ids := func(txs []*core.Transaction) []string {
		out := make([]string, len(txs))
		for i, tx := range txs {
			out[i] = tx.ID
		}
		return out
	}
	assert.Equal(t, []string{a0.ID, a1.ID, b0.ID}, ids(mp.Pending(10)))
	assert.Equal(t, []string{a0.ID}, ids(mp.Pending(1)))
	assert.Empty(t, mp.Pending(0))

	// Same nonce: only a higher fee replaces.
	assert.ErrorIs(t, mp.Add(bid(bob, 0, 1)), core.ErrNonceUnderpaid)
	b0x := bid(bob, 0, 5)
	require.NoError(t, mp.Add(b0x))
	assert.Equal(t, 3, mp.Size())
	_, ok := mp.Get(b0.ID)
	assert.False(t, ok)
	assert.Equal(t, []string{a0.ID, a1.ID, b0x.ID}, ids(mp.Pending(10)))

	mp.Remove([]string{a0.ID, b0x.ID})
	assert.Equal(t, []string{a1.ID}, ids(mp.Pending(10)))
	require.NoError(t, mp.Add(bid(bob, 0, 1)), "slot is free again")
}
