package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

var (
	// ErrNotNext is returned by AddBlock for a block that does not extend the tip.
	ErrNotNext = errors.New("block does not extend the tip")
	// ErrClockRegression is returned by AddBlock for a block whose timestamp
	// is not after the tip's. Auction windows rely on the chain clock only
	// moving forward.
	ErrClockRegression = errors.New("block timestamp not after tip")
)

// BlockStore persists blocks. Implementations live in the storage package.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	GetBlockByHeight(height int64) (*Block, error)
	// GetTip returns the current tip hash, or ("", nil) for a fresh chain.
	GetTip() (string, error)
	// CommitBlock writes the block, its height index entry and the new tip
	// in one batch.
	CommitBlock(block *Block) error
}

// Blockchain is the canonical chain of blocks, starting at genesis (height 0).
type Blockchain struct {
	mu    sync.RWMutex
	store BlockStore
	tip   *Block
}

// NewBlockchain returns a Blockchain backed by store. Call Init before use.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{store: store}
}

// Init loads the persisted tip.
func (bc *Blockchain) Init() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	hash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if hash == "" {
		return nil
	}
	tip, err := bc.store.GetBlock(hash)
	if err != nil {
		return fmt.Errorf("load tip block %s: %w", hash, err)
	}
	bc.tip = tip
	return nil
}

// AddBlock appends block to the chain. The first block added becomes genesis
// and is accepted as is; every later block must link to the tip and carry a
// later timestamp.
func (bc *Blockchain) AddBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if tip := bc.tip; tip != nil {
		h := block.Header
		if h.Height != tip.Header.Height+1 || h.PrevHash != tip.Hash {
			return fmt.Errorf("%w: got height %d prev %s, tip is %d %s", ErrNotNext, h.Height, h.PrevHash, tip.Header.Height, tip.Hash)
		}
		if h.Timestamp <= tip.Header.Timestamp {
			return fmt.Errorf("%w: %d <= %d", ErrClockRegression, h.Timestamp, tip.Header.Timestamp)
		}
	}
	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block %d: %w", block.Header.Height, err)
	}
	bc.tip = block
	return nil
}

// GetBlock returns a block by its hash.
func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	return bc.store.GetBlock(hash)
}

// GetBlockByHeight returns the block at height.
func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	return bc.store.GetBlockByHeight(height)
}

// Range returns up to limit consecutive blocks starting at from. It stops
// early at the tip.
func (bc *Blockchain) Range(from int64, limit int) ([]*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil || from > bc.tip.Header.Height || limit <= 0 {
		return nil, nil
	}
	to := min(from+int64(limit)-1, bc.tip.Header.Height)
	blocks := make([]*Block, 0, to-from+1)
	for h := from; h <= to; h++ {
		b, err := bc.store.GetBlockByHeight(h)
		if err != nil {
			return blocks, fmt.Errorf("block %d: %w", h, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// Tip returns the current chain tip, or nil for a fresh chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Height returns the height of the tip (0 for a fresh chain).
func (bc *Blockchain) Height() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return 0
	}
	return bc.tip.Header.Height
}

// Time returns the tip timestamp, the chain's notion of now. ok is false
// until a block after genesis exists.
func (bc *Blockchain) Time() (ts int64, ok bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil || bc.tip.Header.Height == 0 {
		return 0, false
	}
	return bc.tip.Header.Timestamp, true
}
