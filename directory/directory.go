// Package directory answers read-only questions about the auctions on the
// chain: which exist, which accept bids right now, and what each one looks
// like.
package directory

import (
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/bidchain/core"
)

// ErrUnknownAuction is returned for IDs that were never created.
var ErrUnknownAuction = errors.New("unknown auction")

// Clock returns the current time in unix nanoseconds.
type Clock func() int64

// WallClock reads the local system time.
func WallClock() int64 { return time.Now().UnixNano() }

// TipClock follows the timestamp of the chain tip, the same clock bid
// transactions are checked against. Until the first block after genesis it
// falls back to the wall clock.
func TipClock(bc *core.Blockchain) Clock {
	return func() int64 {
		if ts, ok := bc.Time(); ok {
			return ts
		}
		return WallClock()
	}
}

// Info is a point-in-time view of one auction.
type Info struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Seller            string            `json:"seller"`
	Start             int64             `json:"start"`
	End               int64             `json:"end"`
	MinBid            uint64            `json:"min_bid"`
	Increment         uint64            `json:"increment"`
	Asset             core.AuctionAsset `json:"asset"`
	HighestBid        uint64            `json:"highest_bid"`
	HighestBidder     string            `json:"highest_bidder"`
	HighestBindingBid uint64            `json:"highest_binding_bid"`
	Phase             core.Phase        `json:"phase"`
	IsActive          bool              `json:"is_active"`
	Ended             bool              `json:"ended"`
	Canceled          bool              `json:"canceled"`
}

// Directory lists and describes auctions held in chain state.
type Directory struct {
	state core.State
	now   Clock
}

// New returns a Directory over state using now for the active check.
func New(state core.State, now Clock) *Directory {
	if now == nil {
		now = WallClock
	}
	return &Directory{state: state, now: now}
}

// Now returns the directory's current time.
func (d *Directory) Now() int64 { return d.now() }

// ListAll returns every auction ever created, oldest first.
func (d *Directory) ListAll() ([]*core.Auction, error) {
	return d.state.Auctions()
}

// ListActive returns the auctions that accept bids at the current time.
func (d *Directory) ListActive() ([]*core.Auction, error) {
	all, err := d.state.Auctions()
	if err != nil {
		return nil, err
	}
	now := d.now()
	active := make([]*core.Auction, 0, len(all))
	for _, a := range all {
		if a.IsActiveAt(now) {
			active = append(active, a)
		}
	}
	return active, nil
}

// IsKnown reports whether id names an auction created on this chain.
func (d *Directory) IsKnown(id string) (bool, error) {
	_, err := d.state.GetAuction(id)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *Directory) get(id string) (*core.Auction, error) {
	a, err := d.state.GetAuction(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAuction, id)
	}
	return a, err
}

// Info returns a snapshot of auction id.
func (d *Directory) Info(id string) (*Info, error) {
	a, err := d.get(id)
	if err != nil {
		return nil, err
	}
	return Describe(a, d.now()), nil
}

// Describe builds the Info for a at time now.
func Describe(a *core.Auction, now int64) *Info {
	return &Info{
		ID:                a.ID,
		Name:              a.Name,
		Description:       a.Description,
		Seller:            a.Seller,
		Start:             a.Start,
		End:               a.End,
		MinBid:            a.MinBid,
		Increment:         a.Increment,
		Asset:             a.Asset,
		HighestBid:        a.HighestBid,
		HighestBidder:     a.HighestBidder,
		HighestBindingBid: a.HighestBindingBid,
		Phase:             a.PhaseAt(now),
		IsActive:          a.IsActiveAt(now),
		Ended:             a.Ended,
		Canceled:          a.Canceled,
	}
}

// Bid returns party's cumulative pledge in auction id.
func (d *Directory) Bid(id, party string) (uint64, error) {
	if _, err := d.get(id); err != nil {
		return 0, err
	}
	return d.state.GetBid(id, party)
}

// Bids returns every non-zero pledge in auction id.
func (d *Directory) Bids(id string) (map[string]uint64, error) {
	if _, err := d.get(id); err != nil {
		return nil, err
	}
	return d.state.Bids(id)
}
