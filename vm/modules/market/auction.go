// Package market hosts the auction house: it creates proxy-bidding auctions
// and routes bids, cancellations, settlements and withdrawals through the
// escrow engine in package auction.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tolelom/bidchain/auction"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/crypto"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/vm"
)

func init() {
	vm.Register(core.TxCreateAuction, handleCreateAuction)
	vm.Register(core.TxPlaceBid, handlePlaceBid)
	vm.Register(core.TxCancelAuction, handleCancel)
	vm.Register(core.TxFinalizeAuction, handleFinalize)
	vm.Register(core.TxEndAuctionEarly, handleEndEarly)
	vm.Register(core.TxWithdrawBid, handleWithdraw)
}

// IDFor returns the auction ID assigned by a create_auction transaction.
// The ID doubles as the escrow address of the auction.
func IDFor(txID string) string {
	return crypto.DeriveID(txID, "auction")
}

func handleCreateAuction(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateAuctionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_auction payload: %w", err)
	}
	if p.Name == "" {
		return errors.New("auction name required")
	}
	if p.Increment == 0 {
		return errors.New("increment must be > 0")
	}
	if p.Start >= p.End {
		return fmt.Errorf("start %d must be before end %d", p.Start, p.End)
	}
	if p.End <= ctx.Now() {
		return fmt.Errorf("end %d is not in the future", p.End)
	}
	if err := p.Asset.Validate(); err != nil {
		return err
	}
	if p.Asset.Kind == core.AssetToken {
		if _, err := ctx.State.GetToken(p.Asset.TokenID); err != nil {
			return fmt.Errorf("token %q not found: %w", p.Asset.TokenID, err)
		}
	}

	a := &core.Auction{
		ID:          IDFor(ctx.Tx.ID),
		Seller:      ctx.Tx.From,
		Name:        p.Name,
		Description: p.Description,
		MinBid:      p.MinBid,
		Increment:   p.Increment,
		Start:       p.Start,
		End:         p.End,
		Asset:       p.Asset,
		CreatedAt:   ctx.Now(),
	}
	if _, err := ctx.State.GetAuction(a.ID); err == nil {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	if err := ctx.State.SetAuction(a); err != nil {
		return err
	}

	ctx.Emit(events.EventAuctionCreated, map[string]any{
		"auction_id": a.ID,
		"seller":     a.Seller,
		"name":       a.Name,
		"start":      a.Start,
		"end":        a.End,
		"asset":      string(a.Asset.Kind),
		"token_id":   a.Asset.TokenID,
	})
	return nil
}

// open loads an auction and wires an escrow engine to chain state.
func open(ctx *vm.Context, id string) (*auction.Escrow, error) {
	a, err := ctx.State.GetAuction(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("auction %q not found: %w", id, err)
	}
	if err != nil {
		return nil, err
	}
	asset, err := assetFor(ctx.State, a)
	if err != nil {
		return nil, err
	}
	return auction.New(a, stateLedger{state: ctx.State, auctionID: a.ID}, asset), nil
}

func decodeAuctionPayload(op string, payload json.RawMessage) (core.AuctionPayload, error) {
	var p core.AuctionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", op, err)
	}
	if p.AuctionID == "" {
		return p, errors.New("auction_id required")
	}
	return p, nil
}

// reject logs a failed operation before returning err.
func reject(ctx *vm.Context, op, auctionID string, err error) error {
	code := auction.Code(err)
	if code == "" {
		code = vm.CodeFailed
	}
	slog.Debug("auction operation rejected", "pkg", "market", "op", op, "auction", auctionID, "from", ctx.Tx.From, "code", code, "err", err)
	return err
}

func handlePlaceBid(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PlaceBidPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode place_bid payload: %w", err)
	}
	esc, err := open(ctx, p.AuctionID)
	if err != nil {
		return err
	}
	res, err := esc.PlaceBid(ctx.Now(), ctx.Tx.From, p.Amount)
	if err != nil {
		return reject(ctx, "place_bid", p.AuctionID, err)
	}
	if err := ctx.State.SetAuction(esc.Auction()); err != nil {
		return err
	}

	ctx.Emit(events.EventBidPlaced, map[string]any{
		"auction_id":     p.AuctionID,
		"bidder":         res.Bidder,
		"amount":         res.Amount,
		"cumulative":     res.Cumulative,
		"highest_bidder": res.Standing.Leader,
		"highest_bid":    res.Standing.HighestBid,
		"binding_bid":    res.Standing.BindingBid,
	})
	return nil
}

func handleCancel(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decodeAuctionPayload("cancel_auction", payload)
	if err != nil {
		return err
	}
	esc, err := open(ctx, p.AuctionID)
	if err != nil {
		return err
	}
	s, err := esc.Cancel(ctx.Now(), ctx.Tx.From)
	if err != nil {
		return reject(ctx, "cancel_auction", p.AuctionID, err)
	}
	if err := ctx.State.SetAuction(esc.Auction()); err != nil {
		return err
	}

	ctx.Emit(events.EventAuctionCanceled, map[string]any{
		"auction_id":  p.AuctionID,
		"refunded":    s.Refunded,
		"refunded_to": s.RefundedTo,
	})
	return nil
}

func handleFinalize(ctx *vm.Context, payload json.RawMessage) error {
	return settle(ctx, "finalize_auction", payload, (*auction.Escrow).Finalize)
}

func handleEndEarly(ctx *vm.Context, payload json.RawMessage) error {
	return settle(ctx, "end_auction_early", payload, (*auction.Escrow).EndEarly)
}

type settleFunc func(e *auction.Escrow, now int64, caller string) (*auction.Settlement, error)

func settle(ctx *vm.Context, op string, payload json.RawMessage, fn settleFunc) error {
	p, err := decodeAuctionPayload(op, payload)
	if err != nil {
		return err
	}
	esc, err := open(ctx, p.AuctionID)
	if err != nil {
		return err
	}
	s, err := fn(esc, ctx.Now(), ctx.Tx.From)
	if err != nil {
		return reject(ctx, op, p.AuctionID, err)
	}
	if err := ctx.State.SetAuction(esc.Auction()); err != nil {
		return err
	}

	ctx.Emit(events.EventAuctionFinalized, map[string]any{
		"auction_id":  p.AuctionID,
		"winner":      s.Winner,
		"amount_paid": s.SellerPaid,
		"refunded":    s.Refunded,
		"canceled":    s.Canceled,
		"early":       op == "end_auction_early",
	})
	return nil
}

func handleWithdraw(ctx *vm.Context, payload json.RawMessage) error {
	p, err := decodeAuctionPayload("withdraw_bid", payload)
	if err != nil {
		return err
	}
	esc, err := open(ctx, p.AuctionID)
	if err != nil {
		return err
	}
	amount, err := esc.Withdraw(ctx.Now(), ctx.Tx.From)
	if err != nil {
		return reject(ctx, "withdraw_bid", p.AuctionID, err)
	}

	ctx.Emit(events.EventBidWithdrawn, map[string]any{
		"auction_id": p.AuctionID,
		"bidder":     ctx.Tx.From,
		"amount":     amount,
	})
	return nil
}
