package token

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/crypto"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/vm"
)

const (
	maxSymbolLen = 12
	maxDecimals  = 18
)

func init() {
	vm.Register(core.TxCreateToken, handleCreateToken)
	vm.Register(core.TxTokenTransfer, handleTransfer)
	vm.Register(core.TxTokenApprove, handleApprove)
	vm.Register(core.TxTokenTransferFrom, handleTransferFrom)
}

// IDFor returns the token ID assigned by a create_token transaction.
func IDFor(txID, symbol string) string {
	return crypto.DeriveID(txID, "token", symbol)
}

func handleCreateToken(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateTokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_token payload: %w", err)
	}
	if p.Symbol == "" || len(p.Symbol) > maxSymbolLen {
		return fmt.Errorf("symbol must be 1-%d characters", maxSymbolLen)
	}
	if p.Decimals > maxDecimals {
		return fmt.Errorf("decimals must be <= %d", maxDecimals)
	}
	if p.Supply == 0 {
		return errors.New("supply must be > 0")
	}

	t := &core.Token{
		ID:          IDFor(ctx.Tx.ID, p.Symbol),
		Symbol:      p.Symbol,
		Name:        p.Name,
		Decimals:    p.Decimals,
		Issuer:      ctx.Tx.From,
		TotalSupply: p.Supply,
		CreatedAt:   ctx.Now(),
	}
	if _, err := ctx.State.GetToken(t.ID); err == nil {
		return fmt.Errorf("token %s already exists", t.ID)
	}
	if err := ctx.State.SetToken(t); err != nil {
		return err
	}
	if err := ctx.State.SetTokenBalance(t.ID, t.Issuer, t.TotalSupply); err != nil {
		return err
	}

	ctx.Emit(events.EventTokenCreated, map[string]any{
		"token_id": t.ID,
		"symbol":   t.Symbol,
		"issuer":   t.Issuer,
		"supply":   t.TotalSupply,
	})
	return nil
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TokenTransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode token_transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("token_transfer amount must be > 0")
	}
	if err := crypto.ValidateAddress(p.To); err != nil {
		return fmt.Errorf("token_transfer recipient: %w", err)
	}
	if err := Transfer(ctx.State, p.TokenID, ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}
	emitTransfer(ctx, p.TokenID, ctx.Tx.From, p.To, p.Amount)
	return nil
}

func handleApprove(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TokenApprovePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode token_approve payload: %w", err)
	}
	if err := crypto.ValidateAddress(p.Spender); err != nil {
		return fmt.Errorf("spender: %w", err)
	}
	if err := Approve(ctx.State, p.TokenID, ctx.Tx.From, p.Spender, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventTokenApproval, map[string]any{
		"token_id": p.TokenID,
		"owner":    ctx.Tx.From,
		"spender":  p.Spender,
		"amount":   p.Amount,
	})
	return nil
}

func handleTransferFrom(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TokenTransferFromPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode token_transfer_from payload: %w", err)
	}
	if p.Amount == 0 || p.From == "" || p.To == "" {
		return errors.New("token_transfer_from needs from, to and amount > 0")
	}
	if err := TransferFrom(ctx.State, p.TokenID, ctx.Tx.From, p.From, p.To, p.Amount); err != nil {
		return err
	}
	emitTransfer(ctx, p.TokenID, p.From, p.To, p.Amount)
	return nil
}

func emitTransfer(ctx *vm.Context, tokenID, from, to string, amount uint64) {
	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"token_id": tokenID,
		"from":     from,
		"to":       to,
		"amount":   amount,
	})
}
