package core

// Receipt statuses.
const (
	ReceiptOK     = "ok"
	ReceiptFailed = "failed"
)

// Receipt records the outcome of a transaction included in a block.
// A failed transaction still pays its fee and consumes its nonce; every
// other effect is reverted. Code is a stable machine-readable reason.
type Receipt struct {
	TxID        string `json:"tx_id"`
	Type        TxType `json:"type"`
	From        string `json:"from"`
	BlockHeight int64  `json:"block_height"`
	Status      string `json:"status"`
	Code        string `json:"code,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Succeeded reports whether the transaction's handler ran to completion.
func (r *Receipt) Succeeded() bool { return r.Status == ReceiptOK }
