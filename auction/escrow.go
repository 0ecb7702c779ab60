// Package auction implements the escrow state machine of a proxy-bidding
// English auction. It is independent of how value moves: callers supply an
// Asset for deposits and payouts and a Ledger for per-bidder pledges.
package auction

import (
	"errors"
	"fmt"

	"github.com/tolelom/bidchain/core"
)

// Asset moves the auctioned currency in and out of escrow.
type Asset interface {
	// Deposit pulls amount from the bidder into escrow.
	Deposit(from string, amount uint64) error
	// PayOut pushes amount from escrow to the recipient.
	PayOut(to string, amount uint64) error
}

// BidResult describes an accepted bid.
type BidResult struct {
	Bidder     string
	Amount     uint64 // pledged by this call
	Cumulative uint64 // bidder's ledger entry after the call
	Standing   Standing
}

// Settlement describes the payouts of a cancel or settle operation.
type Settlement struct {
	Canceled   bool
	Winner     string // "" when there is no winner
	SellerPaid uint64
	Refunded   uint64 // returned to RefundedTo
	RefundedTo string
}

// Escrow runs auction operations against one auction. It mutates the
// *core.Auction it was built with; the caller persists it after a successful
// call. Every operation either completes or leaves the auction and the
// ledger exactly as it found them.
//
// Ledger and flag writes always happen before the matching payout, and an
// Escrow refuses to run an operation while another is in progress.
type Escrow struct {
	a      *core.Auction
	ledger Ledger
	asset  Asset
	busy   bool
}

// New returns an Escrow for a.
func New(a *core.Auction, ledger Ledger, asset Asset) *Escrow {
	return &Escrow{a: a, ledger: ledger, asset: asset}
}

// Auction returns the auction being operated on.
func (e *Escrow) Auction() *core.Auction { return e.a }

// Standing returns the current leader and prices.
func (e *Escrow) Standing() Standing {
	return Standing{
		Leader:     e.a.HighestBidder,
		HighestBid: e.a.HighestBid,
		BindingBid: e.a.HighestBindingBid,
	}
}

func (e *Escrow) enter() error {
	if e.busy {
		return ErrReentrant
	}
	e.busy = true
	return nil
}

func (e *Escrow) exit() { e.busy = false }

// PlaceBid pledges amount on behalf of bidder at time now.
func (e *Escrow) PlaceBid(now int64, bidder string, amount uint64) (*BidResult, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	a := e.a
	if a.Settled() {
		return nil, fmt.Errorf("%w: auction %s is %s", ErrInvalidState, a.ID, a.PhaseAt(now))
	}
	if now < a.Start || now >= a.End {
		return nil, fmt.Errorf("%w: bids accepted in [%d, %d), now %d", ErrInvalidTiming, a.Start, a.End, now)
	}
	if bidder == a.Seller {
		return nil, fmt.Errorf("%w: seller cannot bid", ErrUnauthorized)
	}
	if amount <= a.MinBid {
		return nil, fmt.Errorf("%w: amount %d does not exceed minimum %d", ErrBidTooLow, amount, a.MinBid)
	}

	next, total, err := ComputeNewState(e.ledger, e.Standing(), bidder, amount, a.Increment)
	if err != nil {
		return nil, err
	}

	// Pull first: a failed deposit leaves nothing to undo.
	if err := e.asset.Deposit(bidder, amount); err != nil {
		return nil, fmt.Errorf("%w: deposit %d from %s: %w", ErrAssetTransferFailed, amount, bidder, err)
	}
	if err := e.ledger.SetBid(bidder, total); err != nil {
		return nil, fmt.Errorf("write ledger: %w", err)
	}
	a.HighestBidder = next.Leader
	a.HighestBid = next.HighestBid
	a.HighestBindingBid = next.BindingBid

	return &BidResult{Bidder: bidder, Amount: amount, Cumulative: total, Standing: next}, nil
}

// Cancel aborts the auction. The leader's whole pledge is returned at once;
// every other bidder withdraws later.
func (e *Escrow) Cancel(now int64, caller string) (*Settlement, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	a := e.a
	if caller != a.Seller {
		return nil, fmt.Errorf("%w: only the seller may cancel", ErrUnauthorized)
	}
	if a.Settled() {
		return nil, fmt.Errorf("%w: auction %s is already %s", ErrInvalidState, a.ID, a.PhaseAt(now))
	}

	saved := *a
	a.Canceled = true
	s := &Settlement{Canceled: true}
	if !a.HasLeader() {
		return s, nil
	}

	leader := a.HighestBidder
	entry, err := e.ledger.Bid(leader)
	if err != nil {
		*a = saved
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := e.ledger.SetBid(leader, 0); err != nil {
		*a = saved
		return nil, fmt.Errorf("write ledger: %w", err)
	}
	if err := e.asset.PayOut(leader, a.HighestBid); err != nil {
		err = fmt.Errorf("%w: refund %d to %s: %w", ErrAssetTransferFailed, a.HighestBid, leader, err)
		return nil, errors.Join(err, e.restore(saved, leader, entry))
	}
	s.Refunded, s.RefundedTo = a.HighestBid, leader
	return s, nil
}

// Finalize settles the auction once bidding has closed (now >= End) or after
// a cancel.
func (e *Escrow) Finalize(now int64, caller string) (*Settlement, error) {
	return e.settleWhen(now, caller, func(a *core.Auction) bool { return now >= a.End }, "finalize before end")
}

// EndEarly settles the auction before its scheduled end.
func (e *Escrow) EndEarly(now int64, caller string) (*Settlement, error) {
	return e.settleWhen(now, caller, func(a *core.Auction) bool { return now < a.End }, "end early after end")
}

// settleWhen runs the seller and state checks shared by Finalize and
// EndEarly, then settles if the auction is canceled or open(a) holds.
func (e *Escrow) settleWhen(now int64, caller string, open func(*core.Auction) bool, what string) (*Settlement, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	a := e.a
	if caller != a.Seller {
		return nil, fmt.Errorf("%w: only the seller may settle", ErrUnauthorized)
	}
	if a.Ended {
		return nil, fmt.Errorf("%w: auction %s already ended", ErrInvalidState, a.ID)
	}
	if !a.Canceled && !open(a) {
		return nil, fmt.Errorf("%w: %s (end %d, now %d)", ErrInvalidTiming, what, a.End, now)
	}
	return e.settle()
}

// settle latches Ended and, for a live auction with a leader, pays the
// seller the binding bid and returns the unused ceiling to the leader.
func (e *Escrow) settle() (*Settlement, error) {
	a := e.a
	saved := *a
	a.Ended = true
	s := &Settlement{Canceled: a.Canceled}
	if a.Canceled || !a.HasLeader() {
		return s, nil
	}

	leader := a.HighestBidder
	entry, err := e.ledger.Bid(leader)
	if err != nil {
		*a = saved
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := e.ledger.SetBid(leader, 0); err != nil {
		*a = saved
		return nil, fmt.Errorf("write ledger: %w", err)
	}
	if err := e.asset.PayOut(a.Seller, a.HighestBindingBid); err != nil {
		err = fmt.Errorf("%w: pay %d to seller: %w", ErrAssetTransferFailed, a.HighestBindingBid, err)
		return nil, errors.Join(err, e.restore(saved, leader, entry))
	}
	if rest := a.HighestBid - a.HighestBindingBid; rest > 0 {
		if err := e.asset.PayOut(leader, rest); err != nil {
			err = fmt.Errorf("%w: refund %d to %s: %w", ErrAssetTransferFailed, rest, leader, err)
			return nil, errors.Join(err, e.restore(saved, leader, entry))
		}
		s.Refunded, s.RefundedTo = rest, leader
	}
	s.Winner, s.SellerPaid = leader, a.HighestBindingBid
	return s, nil
}

// Withdraw pays caller their whole ledger entry once the auction is
// canceled or ended.
func (e *Escrow) Withdraw(now int64, caller string) (uint64, error) {
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.exit()

	a := e.a
	if !a.Settled() {
		return 0, fmt.Errorf("%w: auction %s is %s", ErrInvalidState, a.ID, a.PhaseAt(now))
	}
	amount, err := e.ledger.Bid(caller)
	if err != nil {
		return 0, fmt.Errorf("read ledger: %w", err)
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: %s has no pledge in %s", ErrNothingToWithdraw, caller, a.ID)
	}
	if err := e.ledger.SetBid(caller, 0); err != nil {
		return 0, fmt.Errorf("write ledger: %w", err)
	}
	if err := e.asset.PayOut(caller, amount); err != nil {
		err = fmt.Errorf("%w: pay %d to %s: %w", ErrAssetTransferFailed, amount, caller, err)
		return 0, errors.Join(err, e.restore(*a, caller, amount))
	}
	return amount, nil
}

// restore puts back the auction fields and one ledger entry after a failed
// payout. Payouts that already succeeded, and a ledger entry that could not
// be written back, are undone by the snapshot the executor takes around
// every handler; the returned error is reported alongside the payout error.
func (e *Escrow) restore(saved core.Auction, bidder string, entry uint64) error {
	*e.a = saved
	if err := e.ledger.SetBid(bidder, entry); err != nil {
		return fmt.Errorf("restore ledger entry of %s: %w", bidder, err)
	}
	return nil
}
