package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/events"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction, and the event emitter.
type Context struct {
	State   core.State
	Block   *core.Block
	Tx      *core.Transaction
	Emitter *events.Emitter
}

// Now returns the block timestamp, the only clock handlers may consult.
func (c *Context) Now() int64 { return c.Block.Header.Timestamp }

// Emit publishes an event for the current transaction if an emitter is set.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	if c.Emitter == nil {
		return
	}
	c.Emitter.Emit(events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// CodeFailed is the receipt code for handler errors that carry no code.
const CodeFailed = "failed"

// coder is implemented by errors that carry a stable receipt code.
type coder interface {
	ErrorCode() string
}

// ErrorCode returns the receipt code for a handler error.
func ErrorCode(err error) string {
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeFailed
}

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
}

// NewExecutor creates an Executor with the given state and event emitter.
func NewExecutor(state core.State, emitter *events.Emitter) *Executor {
	return &Executor{state: state, emitter: emitter}
}

// ExecuteBlock applies all transactions in block sequentially and returns
// their receipts. A transaction that cannot be charged (bad signature, wrong
// nonce, unpaid fee) invalidates the whole block; a handler failure only
// yields a failed receipt. EventBlockCommit is emitted by the caller after
// signing so the event carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) ([]*core.Receipt, error) {
	receipts := make([]*core.Receipt, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		r, err := e.ExecuteTx(block, tx)
		if err != nil {
			return nil, fmt.Errorf("tx %s invalid: %w", tx.ID, err)
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// ApplyTxs is the proposer's variant of ExecuteBlock: transactions that
// cannot be charged are skipped and returned as rejected instead of failing
// the block. The caller sets block.Transactions to the included list.
func (e *Executor) ApplyTxs(block *core.Block, txs []*core.Transaction) (included []*core.Transaction, receipts []*core.Receipt, rejected []*core.Transaction) {
	for _, tx := range txs {
		r, err := e.ExecuteTx(block, tx)
		if err != nil {
			rejected = append(rejected, tx)
			continue
		}
		included = append(included, tx)
		receipts = append(receipts, r)
	}
	return included, receipts, rejected
}

// ExecuteTx verifies and executes a single transaction. The returned error
// is non-nil only when the transaction cannot be included at all; in that
// case the state is untouched. A handler error is reported in the receipt
// and rolls back everything except the fee and nonce.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) (*core.Receipt, error) {
	if err := tx.Verify(); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	handler, err := modules.Lookup(tx.Type)
	if err != nil {
		return nil, err
	}

	outer, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := e.charge(tx); err != nil {
		if revertErr := e.state.RevertToSnapshot(outer); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after charge failure: %w (revert: %v)", err, revertErr)
		}
		return nil, err
	}

	receipt := &core.Receipt{
		TxID:        tx.ID,
		Type:        tx.Type,
		From:        tx.From,
		BlockHeight: block.Header.Height,
		Status:      core.ReceiptOK,
	}

	inner, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	ctx := &Context{State: e.state, Block: block, Tx: tx, Emitter: e.emitter}
	if err := handler(ctx, tx.Payload); err != nil {
		if revertErr := e.state.RevertToSnapshot(inner); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		receipt.Status = core.ReceiptFailed
		receipt.Code = ErrorCode(err)
		receipt.Error = err.Error()
		e.emit(events.EventTxFailed, tx, block, map[string]any{
			"type": string(tx.Type), "from": tx.From, "code": receipt.Code, "error": receipt.Error,
		})
		return receipt, nil
	}

	e.emit(events.EventTxExecuted, tx, block, map[string]any{"type": string(tx.Type), "from": tx.From})
	return receipt, nil
}

func (e *Executor) emit(typ events.EventType, tx *core.Transaction, block *core.Block, data map[string]any) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(events.Event{Type: typ, TxID: tx.ID, BlockHeight: block.Header.Height, Data: data})
}

// charge deducts the fee and increments the nonce.
func (e *Executor) charge(tx *core.Transaction) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	return e.state.SetAccount(acc)
}
