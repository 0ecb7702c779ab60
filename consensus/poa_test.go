package consensus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/config"
	"github.com/tolelom/bidchain/consensus"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/internal/testutil"
	"github.com/tolelom/bidchain/vm"
	"github.com/tolelom/bidchain/wallet"

	_ "github.com/tolelom/bidchain/vm/modules/economy"
	_ "github.com/tolelom/bidchain/vm/modules/market"
)

type node struct {
	state   core.State
	bc      *core.Blockchain
	mempool *core.Mempool
	poa     *consensus.PoA
	commits []events.Event
}

func newNode(t *testing.T, cfg *config.Config, validator *wallet.Wallet) (*node, *core.Block) {
	t.Helper()
	n := &node{state: testutil.NewStateDB(), mempool: core.NewMempool(cfg.Genesis.ChainID)}
	n.bc = core.NewBlockchain(testutil.NewMemBlockStore())
	require.NoError(t, n.bc.Init())

	g, err := config.CreateGenesisBlock(cfg, n.state)
	require.NoError(t, err)
	require.NoError(t, n.bc.AddBlock(g))

	emitter := events.NewEmitter()
	emitter.Subscribe(events.EventBlockCommit, func(ev events.Event) { n.commits = append(n.commits, ev) })
	exec := vm.NewExecutor(n.state, emitter)
	n.poa = consensus.New(cfg, n.bc, n.state, n.mempool, exec, emitter, validator.PrivKey())
	return n, g
}

func TestProduceBlock(t *testing.T) {
	cfg := config.DefaultConfig()
	validator, err := wallet.Generate(cfg.Genesis.ChainID)
	require.NoError(t, err)
	alice, err := wallet.Generate(cfg.Genesis.ChainID)
	require.NoError(t, err)
	cfg.Validators = []string{validator.PubKey()}
	cfg.Genesis.Alloc = map[string]uint64{alice.PubKey(): 1000}

	n, genesis := newNode(t, cfg, validator)
	require.True(t, n.poa.IsProposer())

	pay, err := alice.Transfer(validator.PubKey(), 100, 0, 1)
	require.NoError(t, err)
	badBid, err := alice.PlaceBid("missing", 50, 1, 1)
	require.NoError(t, err)
	later, err := alice.Transfer(validator.PubKey(), 5, 7, 1)
	require.NoError(t, err)
	for _, tx := range []*core.Transaction{pay, badBid, later} {
		require.NoError(t, n.mempool.Add(tx))
	}

	block, err := n.poa.ProduceBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(1), block.Header.Height)
	require.Len(t, block.Transactions, 2, "the failing bid is included, the gapped nonce is not")
	assert.Equal(t, core.ComputeTxRoot(block.Transactions), block.Header.TxRoot)
	assert.Equal(t, 1, n.mempool.Size(), "gapped nonce waits in the pool")

	acc, err := n.state.GetAccount(alice.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000-100-2), acc.Balance)
	assert.Equal(t, uint64(2), acc.Nonce)

	require.Len(t, n.commits, 1)
	assert.Equal(t, block.Hash, n.commits[0].Data["hash"])
	assert.Equal(t, 1, n.commits[0].Data["failed"])

	// A follower derives the same genesis, accepts the block and rejects
	// tampering.
	f, fg := newNode(t, cfg, validator)
	assert.Equal(t, genesis.Hash, fg.Hash)
	require.NoError(t, f.poa.ValidateBlock(block))

	tampered := *block
	tampered.Transactions = block.Transactions[:1]
	assert.Error(t, f.poa.ValidateBlock(&tampered))

	tampered = *block
	tampered.Header.Timestamp = genesis.Header.Timestamp
	assert.Error(t, f.poa.ValidateBlock(&tampered))
}

func TestProduceBlockNotProposer(t *testing.T) {
	cfg := config.DefaultConfig()
	validator, err := wallet.Generate(cfg.Genesis.ChainID)
	require.NoError(t, err)
	other, err := wallet.Generate(cfg.Genesis.ChainID)
	require.NoError(t, err)
	cfg.Validators = []string{other.PubKey()}

	n, _ := newNode(t, cfg, validator)
	assert.False(t, n.poa.IsProposer())
	_, err = n.poa.ProduceBlock()
	assert.Error(t, err)
}
