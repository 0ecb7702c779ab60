// Package token implements a fungible token ledger: registration, balances,
// transfers and spending allowances.
package token

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/bidchain/core"
)

var (
	ErrUnknownToken          = errors.New("unknown token")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

func lookup(state core.State, tokenID string) (*core.Token, error) {
	t, err := state.GetToken(tokenID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, tokenID)
	}
	return t, err
}

// BalanceOf returns owner's balance of tokenID.
func BalanceOf(state core.State, tokenID, owner string) (uint64, error) {
	if _, err := lookup(state, tokenID); err != nil {
		return 0, err
	}
	return state.GetTokenBalance(tokenID, owner)
}

// Allowance returns how much spender may still pull from owner.
func Allowance(state core.State, tokenID, owner, spender string) (uint64, error) {
	if _, err := lookup(state, tokenID); err != nil {
		return 0, err
	}
	return state.GetAllowance(tokenID, owner, spender)
}

// Approve sets spender's allowance over owner's tokens, replacing any
// previous value.
func Approve(state core.State, tokenID, owner, spender string, amount uint64) error {
	if _, err := lookup(state, tokenID); err != nil {
		return err
	}
	return state.SetAllowance(tokenID, owner, spender, amount)
}

// Transfer moves amount of tokenID from one holder to another.
func Transfer(state core.State, tokenID, from, to string, amount uint64) error {
	if _, err := lookup(state, tokenID); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	src, err := state.GetTokenBalance(tokenID, from)
	if err != nil {
		return err
	}
	if src < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientBalance, from, src, amount)
	}
	dst, err := state.GetTokenBalance(tokenID, to)
	if err != nil {
		return err
	}
	if dst > math.MaxUint64-amount {
		return fmt.Errorf("token balance overflow for %s", to)
	}
	if err := state.SetTokenBalance(tokenID, from, src-amount); err != nil {
		return err
	}
	return state.SetTokenBalance(tokenID, to, dst+amount)
}

// TransferFrom moves amount from owner to to on behalf of spender and
// consumes that much of spender's allowance.
func TransferFrom(state core.State, tokenID, spender, owner, to string, amount uint64) error {
	if _, err := lookup(state, tokenID); err != nil {
		return err
	}
	allowed, err := state.GetAllowance(tokenID, owner, spender)
	if err != nil {
		return err
	}
	if allowed < amount {
		return fmt.Errorf("%w: %s may spend %d of %s, needs %d", ErrInsufficientAllowance, spender, allowed, owner, amount)
	}
	if err := Transfer(state, tokenID, owner, to, amount); err != nil {
		return err
	}
	return state.SetAllowance(tokenID, owner, spender, allowed-amount)
}
