package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/internal/testutil"
	"github.com/tolelom/bidchain/storage"
)

func TestSnapshotRevert(t *testing.T) {
	state := storage.NewStateDB(testutil.NewMemDB())
	require.NoError(t, state.SetAccount(&core.Account{Address: "a", Balance: 10}))

	snap, err := state.Snapshot()
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: "a", Balance: 99}))
	require.NoError(t, state.SetBid("auc", "a", 5))
	require.NoError(t, state.RevertToSnapshot(snap))

	acc, err := state.GetAccount("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), acc.Balance)
	bid, err := state.GetBid("auc", "a")
	require.NoError(t, err)
	assert.Zero(t, bid)
}

func TestBidsMergeBufferAndDisk(t *testing.T) {
	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	require.NoError(t, state.SetBid("auc", "alice", 50))
	require.NoError(t, state.SetBid("auc", "bob", 70))
	require.NoError(t, state.SetBid("other", "carol", 1))
	require.NoError(t, state.Commit())

	require.NoError(t, state.SetBid("auc", "alice", 0))
	require.NoError(t, state.SetBid("auc", "dave", 80))

	bids, err := state.Bids("auc")
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"bob": 70, "dave": 80}, bids)
}

func TestAuctionsOrderedByCreation(t *testing.T) {
	state := storage.NewStateDB(testutil.NewMemDB())
	require.NoError(t, state.SetAuction(&core.Auction{ID: "b", CreatedAt: 2}))
	require.NoError(t, state.SetAuction(&core.Auction{ID: "a", CreatedAt: 3}))
	require.NoError(t, state.Commit())
	require.NoError(t, state.SetAuction(&core.Auction{ID: "c", CreatedAt: 1}))

	list, err := state.Auctions()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestComputeRootIgnoresZeroEntries(t *testing.T) {
	s1 := storage.NewStateDB(testutil.NewMemDB())
	s2 := storage.NewStateDB(testutil.NewMemDB())

	require.NoError(t, s1.SetBid("auc", "alice", 50))
	require.NoError(t, s1.SetBid("auc", "alice", 0))
	assert.Equal(t, s2.ComputeRoot(), s1.ComputeRoot())

	require.NoError(t, s1.SetTokenBalance("tok", "bob", 3))
	assert.NotEqual(t, s2.ComputeRoot(), s1.ComputeRoot())

	root := s1.ComputeRoot()
	require.NoError(t, s1.Commit())
	assert.Equal(t, root, s1.ComputeRoot())
}

func TestLevelBlockStoreCommitBlock(t *testing.T) {
	store := storage.NewLevelBlockStore(testutil.NewMemDB())
	b := core.NewBlock(1, "prev", "proposer", 42, nil)
	b.Hash = b.ComputeHash()
	require.NoError(t, store.CommitBlock(b))

	tip, err := store.GetTip()
	require.NoError(t, err)
	assert.Equal(t, b.Hash, tip)
	got, err := store.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, b.Hash, got.Hash)
}
