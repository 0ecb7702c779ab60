package core

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

const (
	maxMempoolSize = 10_000
	maxPerSender   = 64
	maxTxAge       = int64(time.Hour)
	maxTxFuture    = int64(5 * time.Minute)
)

var (
	ErrMempoolFull    = errors.New("mempool full")
	ErrDuplicateTx    = errors.New("tx already in pool")
	ErrWrongChain     = errors.New("wrong chain id")
	ErrTxExpired      = errors.New("transaction expired")
	ErrTxFromFuture   = errors.New("transaction timestamp too far in the future")
	ErrSenderLimit    = errors.New("too many pending transactions from sender")
	ErrNonceUnderpaid = errors.New("nonce already pending with an equal or higher fee")
)

type senderNonce struct {
	from  string
	nonce uint64
}

// Mempool holds signed transactions waiting for a block. At most one
// transaction per (sender, nonce) is kept: a resubmission with a higher fee
// replaces the pending one, which lets a bidder swap a stuck bid.
type Mempool struct {
	chainID string

	mu       sync.RWMutex
	txs      map[string]*Transaction
	bySlot   map[senderNonce]string
	perFrom  map[string]int
	arrivals []string // tx IDs in arrival order
}

// NewMempool creates an empty mempool that only accepts transactions signed
// for chainID. An empty chainID accepts any.
func NewMempool(chainID string) *Mempool {
	return &Mempool{
		chainID: chainID,
		txs:     make(map[string]*Transaction),
		bySlot:  make(map[senderNonce]string),
		perFrom: make(map[string]int),
	}
}

// Add verifies tx and admits it. Timestamps must lie within an hour in the
// past and five minutes in the future of local time.
func (m *Mempool) Add(tx *Transaction) error {
	if m.chainID != "" && tx.ChainID != m.chainID {
		return fmt.Errorf("%w: got %q want %q", ErrWrongChain, tx.ChainID, m.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := time.Now().UnixNano()
	if now-tx.Timestamp > maxTxAge {
		return ErrTxExpired
	}
	if tx.Timestamp-now > maxTxFuture {
		return ErrTxFromFuture
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txs[tx.ID]; exists {
		return ErrDuplicateTx
	}
	slot := senderNonce{tx.From, tx.Nonce}
	if oldID, taken := m.bySlot[slot]; taken {
		if old := m.txs[oldID]; tx.Fee <= old.Fee {
			return fmt.Errorf("%w: nonce %d fee %d", ErrNonceUnderpaid, tx.Nonce, old.Fee)
		}
		m.drop(oldID)
	}
	if len(m.txs) >= maxMempoolSize {
		return ErrMempoolFull
	}
	if m.perFrom[tx.From] >= maxPerSender {
		return ErrSenderLimit
	}
	m.txs[tx.ID] = tx
	m.bySlot[slot] = tx.ID
	m.perFrom[tx.From]++
	m.arrivals = append(m.arrivals, tx.ID)
	return nil
}

// Get returns a pending transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n transactions for the next block. Senders are
// served in order of their earliest pending transaction, and each sender's
// transactions come out in nonce order so a late-arriving lower nonce does
// not hold up the ones after it.
func (m *Mempool) Pending(n int) []*Transaction {
	if n <= 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var senders []string
	bySender := make(map[string][]*Transaction)
	for _, id := range m.arrivals {
		tx, ok := m.txs[id]
		if !ok {
			continue
		}
		if _, seen := bySender[tx.From]; !seen {
			senders = append(senders, tx.From)
		}
		bySender[tx.From] = append(bySender[tx.From], tx)
	}

	out := make([]*Transaction, 0, min(n, len(m.txs)))
	for _, from := range senders {
		txs := bySender[from]
		slices.SortStableFunc(txs, func(a, b *Transaction) int {
			switch {
			case a.Nonce < b.Nonce:
				return -1
			case a.Nonce > b.Nonce:
				return 1
			}
			return 0
		})
		for _, tx := range txs {
			if len(out) == n {
				return out
			}
			out = append(out, tx)
		}
	}
	return out
}

// Remove deletes transactions by ID: those a block included and those the
// proposer gave up on.
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.drop(id)
	}
	m.arrivals = slices.DeleteFunc(m.arrivals, func(id string) bool {
		_, ok := m.txs[id]
		return !ok
	})
}

// drop removes id from the indexes. Callers hold m.mu; arrivals is compacted
// lazily by Remove and skipped over by Pending.
func (m *Mempool) drop(id string) {
	tx, ok := m.txs[id]
	if !ok {
		return
	}
	delete(m.txs, id)
	slot := senderNonce{tx.From, tx.Nonce}
	if m.bySlot[slot] == id {
		delete(m.bySlot, slot)
	}
	if m.perFrom[tx.From]--; m.perFrom[tx.From] == 0 {
		delete(m.perFrom, tx.From)
	}
}

// Size returns the number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
