package network_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/config"
	"github.com/tolelom/bidchain/consensus"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/internal/testutil"
	"github.com/tolelom/bidchain/network"
	"github.com/tolelom/bidchain/vm"
	"github.com/tolelom/bidchain/wallet"

	_ "github.com/tolelom/bidchain/vm/modules/economy"
)

type peerNode struct {
	state   core.State
	bc      *core.Blockchain
	mempool *core.Mempool
	poa     *consensus.PoA
	node    *network.Node
	syncer  *network.Syncer
	commits chan int64
}

func startNode(t *testing.T, id string, cfg *config.Config, validator *wallet.Wallet) *peerNode {
	t.Helper()
	n := &peerNode{
		state:   testutil.NewStateDB(),
		bc:      core.NewBlockchain(testutil.NewMemBlockStore()),
		mempool: core.NewMempool(cfg.Genesis.ChainID),
		commits: make(chan int64, 16),
	}
	require.NoError(t, n.bc.Init())
	g, err := config.CreateGenesisBlock(cfg, n.state)
	require.NoError(t, err)
	require.NoError(t, n.bc.AddBlock(g))

	emitter := events.NewEmitter()
	emitter.Subscribe(events.EventBlockCommit, func(ev events.Event) { n.commits <- ev.BlockHeight })
	exec := vm.NewExecutor(n.state, emitter)
	n.poa = consensus.New(cfg, n.bc, n.state, n.mempool, exec, emitter, validator.PrivKey())

	n.node = network.NewNode(id, "127.0.0.1:0", n.mempool, nil)
	n.syncer = network.NewSyncer(n.node, n.bc, n.poa, exec, n.state, emitter)
	require.NoError(t, n.node.Start())
	t.Cleanup(n.node.Stop)
	return n
}

func waitHeight(t *testing.T, n *peerNode, height int64) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case h := <-n.commits:
			if h >= height {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for height %d (at %d)", height, n.bc.Height())
		}
	}
}

func TestFollowerSyncsAndAppliesGossip(t *testing.T) {
	cfg := config.DefaultConfig()
	validator, err := wallet.Generate(cfg.Genesis.ChainID)
	require.NoError(t, err)
	alice, err := wallet.Generate(cfg.Genesis.ChainID)
	require.NoError(t, err)
	cfg.Validators = []string{validator.PubKey()}
	cfg.Genesis.Alloc = map[string]uint64{alice.PubKey(): 500}

	leader := startNode(t, "leader", cfg, validator)
	follower := startNode(t, "follower", cfg, validator)

	tx, err := alice.Transfer(validator.PubKey(), 40, 0, 0)
	require.NoError(t, err)
	require.NoError(t, leader.mempool.Add(tx))
	_, err = leader.poa.ProduceBlock()
	require.NoError(t, err)
	waitHeight(t, leader, 1)

	require.NoError(t, follower.node.AddPeer("leader", leader.node.Addr()))
	peer := follower.node.Peer("leader")
	require.NotNil(t, peer)
	follower.syncer.SyncWithPeer(peer)
	waitHeight(t, follower, 1)

	acc, err := follower.state.GetAccount(alice.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(460), acc.Balance)
	assert.Equal(t, leader.bc.Tip().Hash, follower.bc.Tip().Hash)

	// New blocks reach the follower by gossip.
	block, err := leader.poa.ProduceBlock()
	require.NoError(t, err)
	leader.node.BroadcastBlock(block)
	waitHeight(t, follower, 2)
	assert.Equal(t, block.Hash, follower.bc.Tip().Hash)

	// The leader learned the follower's node ID from its hello.
	assert.Eventually(t, func() bool { return leader.node.Peer("follower") != nil }, 5*time.Second, 10*time.Millisecond)

	// Transactions gossip the other way into the leader's pool.
	next, err := alice.Transfer(validator.PubKey(), 1, 1, 0)
	require.NoError(t, err)
	follower.node.BroadcastTx(next)
	assert.Eventually(t, func() bool {
		_, ok := leader.mempool.Get(next.ID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}
