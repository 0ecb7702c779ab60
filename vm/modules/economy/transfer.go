// Package economy handles native-currency balances.
package economy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/crypto"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/vm"
)

// ErrInsufficientBalance is returned when an account cannot cover a debit.
var ErrInsufficientBalance = errors.New("insufficient balance")

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

// Move transfers amount of native currency between two accounts.
func Move(state core.State, from, to string, amount uint64) error {
	if from == to {
		return nil
	}
	sender, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, sender.Balance, amount)
	}
	recipient, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	if recipient.Balance > math.MaxUint64-amount {
		return fmt.Errorf("balance overflow for %s", to)
	}
	sender.Balance -= amount
	recipient.Balance += amount
	if err := state.SetAccount(sender); err != nil {
		return err
	}
	return state.SetAccount(recipient)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return fmt.Errorf("transfer amount must be > 0")
	}
	if err := crypto.ValidateAddress(p.To); err != nil {
		return fmt.Errorf("transfer recipient: %w", err)
	}
	if err := Move(ctx.State, ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventTransfer, map[string]any{
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}
