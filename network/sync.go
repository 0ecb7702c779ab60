package network

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/events"
)

const syncBatch = 50

// GetBlocksRequest asks a peer for blocks starting at FromHeight.
type GetBlocksRequest struct {
	FromHeight int64 `json:"from_height"`
	Limit      int   `json:"limit"`
}

// BlocksResponse carries a batch of blocks.
type BlocksResponse struct {
	Blocks []*core.Block `json:"blocks"`
}

// BlockValidator validates a block before it is accepted into the chain.
type BlockValidator interface {
	ValidateBlock(block *core.Block) error
}

// BlockExecutor applies all transactions in a block against the state.
type BlockExecutor interface {
	ExecuteBlock(block *core.Block) ([]*core.Receipt, error)
}

// Syncer handles block synchronisation between nodes.
type Syncer struct {
	node      *Node
	bc        *core.Blockchain
	validator BlockValidator
	exec      BlockExecutor   // may be nil; if set, state is also required
	state     core.State      // may be nil; used with exec to commit after each block
	emitter   *events.Emitter // may be nil
	logger    *slog.Logger
}

// NewSyncer creates a Syncer that requests missing blocks from peers and
// applies blocks gossiped by the proposer. Pass non-nil exec and state so
// that synced blocks are fully applied to the local state; without them the
// node will have blocks but no account or auction state. Committed blocks
// are announced on emitter exactly as a local proposer would.
func NewSyncer(node *Node, bc *core.Blockchain, validator BlockValidator, exec BlockExecutor, state core.State, emitter *events.Emitter) *Syncer {
	s := &Syncer{
		node:      node,
		bc:        bc,
		validator: validator,
		exec:      exec,
		state:     state,
		emitter:   emitter,
		logger:    slog.Default().With("pkg", "sync"),
	}
	node.OnHello(s.SyncWithPeer)
	node.Handle(MsgGetBlocks, s.handleGetBlocks)
	node.Handle(MsgBlocks, s.handleBlocks)
	node.Handle(MsgBlock, s.handleBlock)
	return s
}

// SyncWithPeer requests missing blocks from the given peer.
// Call this after AddPeer to initiate an outbound sync.
func (s *Syncer) SyncWithPeer(peer *Peer) {
	fromHeight := s.bc.Height() + 1
	if err := s.RequestBlocks(peer, fromHeight); err != nil {
		s.logger.Warn("request blocks", "peer", peer.ID, "from", fromHeight, "err", err)
	}
}

// RequestBlocks asks peer for blocks starting at fromHeight.
func (s *Syncer) RequestBlocks(peer *Peer, fromHeight int64) error {
	req, err := json.Marshal(GetBlocksRequest{FromHeight: fromHeight, Limit: syncBatch})
	if err != nil {
		return err
	}
	return peer.Send(Message{Type: MsgGetBlocks, Payload: req})
}

func (s *Syncer) handleGetBlocks(peer *Peer, msg Message) {
	var req GetBlocksRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = syncBatch
	}
	blocks, err := s.bc.Range(req.FromHeight, req.Limit)
	if err != nil {
		s.logger.Warn("read blocks for peer", "peer", peer.ID, "from", req.FromHeight, "err", err)
	}
	data, err := json.Marshal(BlocksResponse{Blocks: blocks})
	if err != nil {
		s.logger.Error("marshal blocks response", "err", err)
		return
	}
	if err := peer.Send(Message{Type: MsgBlocks, Payload: data}); err != nil {
		s.logger.Warn("send blocks", "peer", peer.ID, "err", err)
	}
}

func (s *Syncer) handleBlocks(peer *Peer, msg Message) {
	var resp BlocksResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return
	}
	for _, b := range resp.Blocks {
		if b.Header.Height <= s.bc.Height() {
			continue
		}
		if err := s.ApplyBlock(b); err != nil {
			s.logger.Warn("apply synced block", "peer", peer.ID, "height", b.Header.Height, "err", err)
			return // stop processing blocks from this peer
		}
	}

	// If we received a full batch, there may be more blocks; keep requesting.
	if len(resp.Blocks) >= syncBatch {
		s.SyncWithPeer(peer)
	}
}

// handleBlock applies a freshly produced block. A gap means we missed
// blocks, so fall back to a range sync with the sender.
func (s *Syncer) handleBlock(peer *Peer, msg Message) {
	var b core.Block
	if err := json.Unmarshal(msg.Payload, &b); err != nil {
		return
	}
	switch height := s.bc.Height(); {
	case b.Header.Height <= height:
		return
	case b.Header.Height > height+1:
		s.SyncWithPeer(peer)
		return
	}
	if err := s.ApplyBlock(&b); err != nil {
		s.logger.Warn("apply gossiped block", "peer", peer.ID, "height", b.Header.Height, "err", err)
	}
}

// ApplyBlock validates, executes and commits one block on top of the tip.
// On error the local state is left as it was.
func (s *Syncer) ApplyBlock(b *core.Block) error {
	if s.validator != nil {
		if err := s.validator.ValidateBlock(b); err != nil {
			return fmt.Errorf("validate: %w", err)
		}
	}

	executing := s.exec != nil && s.state != nil
	var snapID int
	if executing {
		var err error
		snapID, err = s.state.Snapshot()
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		if _, err := s.exec.ExecuteBlock(b); err != nil {
			s.revert(b, snapID)
			return fmt.Errorf("execute: %w", err)
		}
		if root := s.state.ComputeRoot(); b.Header.StateRoot != "" && root != b.Header.StateRoot {
			s.revert(b, snapID)
			return fmt.Errorf("state root mismatch: computed %s want %s", root, b.Header.StateRoot)
		}
	}

	if err := s.bc.AddBlock(b); err != nil {
		if executing {
			s.revert(b, snapID)
		}
		return fmt.Errorf("add: %w", err)
	}
	if executing {
		if err := s.state.Commit(); err != nil {
			s.logger.Error("block stored but state commit failed", "height", b.Header.Height, "err", err)
			os.Exit(1)
		}
	}

	if s.emitter != nil {
		s.emitter.Emit(events.Event{
			Type:        events.EventBlockCommit,
			BlockHeight: b.Header.Height,
			Data:        map[string]any{"hash": b.Hash, "txs": len(b.Transactions)},
		})
	}
	return nil
}

func (s *Syncer) revert(b *core.Block, snapID int) {
	if err := s.state.RevertToSnapshot(snapID); err != nil {
		s.logger.Error("revert failed", "height", b.Header.Height, "err", err)
		os.Exit(1)
	}
	if s.emitter != nil {
		s.emitter.Emit(events.Event{Type: events.EventBlockReverted, BlockHeight: b.Header.Height})
	}
}
