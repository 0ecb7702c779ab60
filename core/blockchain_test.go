package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/crypto"
	"github.com/tolelom/bidchain/internal/testutil"
)

func sealed(t *testing.T, priv crypto.PrivateKey, parent *core.Block, ts int64, txs ...*core.Transaction) *core.Block {
	t.Helper()
	b := core.NewBlock(parent.Header.Height+1, parent.Hash, priv.Public().Hex(), ts, txs)
	b.Sign(priv)
	return b
}

func TestBlockchainAppend(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	store := testutil.NewMemBlockStore()
	bc := core.NewBlockchain(store)
	require.NoError(t, bc.Init())
	assert.Nil(t, bc.Tip())
	_, ok := bc.Time()
	assert.False(t, ok)

	genesis := core.NewBlock(0, "00", "", 0, nil)
	genesis.Hash = genesis.ComputeHash()
	require.NoError(t, bc.AddBlock(genesis))
	_, ok = bc.Time()
	assert.False(t, ok, "genesis does not set the chain clock")

	b1 := sealed(t, priv, genesis, 100)
	require.NoError(t, bc.AddBlock(b1))
	ts, ok := bc.Time()
	require.True(t, ok)
	assert.Equal(t, int64(100), ts)

	assert.ErrorIs(t, bc.AddBlock(sealed(t, priv, genesis, 200)), core.ErrNotNext)
	assert.ErrorIs(t, bc.AddBlock(sealed(t, priv, b1, 100)), core.ErrClockRegression)

	b2 := sealed(t, priv, b1, 101)
	require.NoError(t, bc.AddBlock(b2))
	assert.Equal(t, int64(2), bc.Height())

	blocks, err := bc.Range(1, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, b1.Hash, blocks[0].Hash)
	assert.Equal(t, b2.Hash, blocks[1].Hash)
	blocks, err = bc.Range(3, 10)
	require.NoError(t, err)
	assert.Empty(t, blocks)

	reopened := core.NewBlockchain(store)
	require.NoError(t, reopened.Init())
	assert.Equal(t, b2.Hash, reopened.Tip().Hash)
}

func TestBlockVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	parent := &core.Block{Hash: "p"}
	b := sealed(t, priv, parent, 5)
	require.NoError(t, b.Verify(pub))
	assert.Equal(t, int64(5), b.Time().UnixNano())

	assert.ErrorIs(t, b.Verify(other), crypto.ErrBadSignature)

	b.Header.StateRoot = "forged"
	assert.ErrorIs(t, b.Verify(pub), core.ErrBlockHash)

	b = sealed(t, priv, parent, 6)
	b.Transactions = append(b.Transactions, &core.Transaction{ID: "extra"})
	assert.ErrorIs(t, b.Verify(pub), core.ErrBlockTxRoot)
}
