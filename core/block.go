package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/bidchain/crypto"
)

var (
	ErrBlockHash   = errors.New("block hash does not match header")
	ErrBlockTxRoot = errors.New("tx_root does not match transactions")
)

// BlockHeader is the signed part of a block. Timestamp is the chain clock:
// auction windows are checked against it, never against wall time.
type BlockHeader struct {
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	StateRoot string `json:"state_root"` // state after executing this block
	TxRoot    string `json:"tx_root"`
	Timestamp int64  `json:"timestamp"` // unix nanoseconds
	Proposer  string `json:"proposer"`  // proposer's pubkey hex
}

// Block is an ordered list of transactions under a signed header.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// NewBlock creates an unsigned block stamped with timestamp.
func NewBlock(height int64, prevHash, proposer string, timestamp int64, txs []*Transaction) *Block {
	b := &Block{Header: BlockHeader{
		Height:    height,
		PrevHash:  prevHash,
		Timestamp: timestamp,
		Proposer:  proposer,
	}}
	b.SetTransactions(txs)
	return b
}

// SetTransactions replaces the block body and recomputes TxRoot. Proposers
// call it once execution has decided which transactions made it in.
func (b *Block) SetTransactions(txs []*Transaction) {
	b.Transactions = txs
	b.Header.TxRoot = ComputeTxRoot(txs)
}

// Time returns the header timestamp.
func (b *Block) Time() time.Time { return time.Unix(0, b.Header.Timestamp) }

// ComputeHash returns the SHA-256 hash of the serialised header.
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs it with the proposer's key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = priv.Sign([]byte(b.Hash))
}

// Verify checks that the block is internally consistent and signed by pub:
// Hash covers the header, TxRoot covers the body.
func (b *Block) Verify(pub crypto.PublicKey) error {
	if b.ComputeHash() != b.Hash {
		return ErrBlockHash
	}
	if root := ComputeTxRoot(b.Transactions); root != b.Header.TxRoot {
		return fmt.Errorf("%w: header %s, body %s", ErrBlockTxRoot, b.Header.TxRoot, root)
	}
	return pub.Verify([]byte(b.Hash), b.Signature)
}

// ComputeTxRoot hashes the transaction IDs in block order.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash(nil)
	}
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	return crypto.DeriveID(ids...)
}
