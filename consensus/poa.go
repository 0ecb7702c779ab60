// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer; other nodes verify the signature before accepting the block.
package consensus

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tolelom/bidchain/config"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/crypto"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/vm"
)

// MaxClockDrift bounds how far a block timestamp may run ahead of the local
// clock. Auction deadlines are judged against block timestamps.
const MaxClockDrift = 15 * time.Second

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	logger  *slog.Logger

	// OnBlock, if set, is called with every block this node commits.
	OnBlock func(*core.Block)
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *PoA {
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		logger:  slog.Default().With("pkg", "consensus"),
	}
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return false
	}
	nextHeight := p.bc.Height() + 1
	idx := int(nextHeight) % len(p.cfg.Validators)
	return p.cfg.Validators[idx] == p.pubKey.Hex()
}

// ProduceBlock builds, signs, executes and commits the next block.
// Transactions that cannot be charged are left out of the block; they are
// dropped from the mempool unless their nonce is still ahead of the sender.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, errors.New("not the proposer for this round")
	}

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	txs := p.mempool.Pending(limit)

	tip := p.bc.Tip()
	var prevHash string
	var nextHeight int64
	if tip == nil {
		prevHash = config.GenesisHash
		nextHeight = 1
	} else {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
	}

	ts := time.Now().UnixNano()
	if tip != nil && ts <= tip.Header.Timestamp {
		ts = tip.Header.Timestamp + 1
	}
	block := core.NewBlock(nextHeight, prevHash, p.pubKey.Hex(), ts, nil)

	snap, err := p.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	included, receipts, rejected := p.exec.ApplyTxs(block, txs)
	block.SetTransactions(included)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block); err != nil {
		if revErr := p.state.RevertToSnapshot(snap); revErr != nil {
			p.logger.Error("revert after add failure", "height", block.Header.Height, "err", revErr)
			os.Exit(1)
		}
		p.emitter.Emit(events.Event{Type: events.EventBlockReverted, BlockHeight: block.Header.Height})
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := p.state.Commit(); err != nil {
		p.logger.Error("block stored but state commit failed", "height", block.Header.Height, "err", err)
		os.Exit(1)
	}

	failed := 0
	for _, r := range receipts {
		if !r.Succeeded() {
			failed++
		}
	}
	blocksCommittedCounter.Inc()
	txsIncludedCounter.WithLabelValues(core.ReceiptOK).Add(float64(len(receipts) - failed))
	txsIncludedCounter.WithLabelValues(core.ReceiptFailed).Add(float64(failed))

	// Emit after Sign() so block.Hash is set correctly.
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions), "failed": failed},
	})

	ids := make([]string, 0, len(included)+len(rejected))
	for _, tx := range included {
		ids = append(ids, tx.ID)
	}
	dropped := 0
	for _, tx := range rejected {
		if p.waiting(tx) {
			continue
		}
		p.logger.Debug("dropping uncharged tx", "tx", tx.ID, "type", tx.Type, "from", tx.From)
		ids = append(ids, tx.ID)
		dropped++
	}
	txsDroppedCounter.Add(float64(dropped))
	p.mempool.Remove(ids)

	if p.OnBlock != nil {
		p.OnBlock(block)
	}
	return block, nil
}

// waiting reports whether a rejected tx may still become valid: its nonce is
// ahead of the sender's account, so an earlier tx has not landed yet.
func (p *PoA) waiting(tx *core.Transaction) bool {
	if tx.Verify() != nil {
		return false
	}
	acc, err := p.state.GetAccount(tx.From)
	if err != nil {
		return false
	}
	return tx.Nonce > acc.Nonce
}

// ValidateBlock checks that block was proposed by the expected validator and
// is correctly linked to the current tip.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if len(p.cfg.Validators) == 0 {
		return errors.New("no validators configured")
	}
	idx := int(block.Header.Height) % len(p.cfg.Validators)
	expected := p.cfg.Validators[idx]
	if block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}

	pub, err := crypto.PubKeyFromHex(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block %d: %w", block.Header.Height, err)
	}
	if limit := time.Now().Add(MaxClockDrift).UnixNano(); block.Header.Timestamp > limit {
		return fmt.Errorf("block timestamp %d too far in the future", block.Header.Timestamp)
	}

	// Validate previous hash linkage
	tip := p.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	if block.Header.Timestamp <= tip.Header.Timestamp {
		return fmt.Errorf("timestamp %d not after parent %d", block.Header.Timestamp, tip.Header.Timestamp)
	}
	return nil
}

// Run starts the block-production loop with the given interval. It blocks
// until done is closed.
func (p *PoA) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if p.IsProposer() {
				if _, err := p.ProduceBlock(); err != nil {
					p.logger.Warn("produce block", "err", err)
				}
			}
		}
	}
}
