package auction

import (
	"fmt"
	"math"
)

// Standing is the leader and price position of an auction.
type Standing struct {
	Leader     string // "" when nobody has bid
	HighestBid uint64 // leader's cumulative pledge
	BindingBid uint64 // what the leader pays if the auction settles now
}

// ComputeNewState applies a pledge of amount by bidder to cur and returns the
// resulting standing together with the bidder's new cumulative pledge.
//
// The bidder's cumulative pledge must reach cur.BindingBid+increment. The
// first bid sets both prices to the pledge. Any later accepted bid, including
// the leader raising their own ceiling, makes the bidder leader with a binding
// price of one increment over the previous highest bid, capped at the pledge.
// Entries of outbid parties are left untouched.
func ComputeNewState(ledger Ledger, cur Standing, bidder string, amount, increment uint64) (Standing, uint64, error) {
	prev, err := ledger.Bid(bidder)
	if err != nil {
		return cur, 0, fmt.Errorf("read ledger: %w", err)
	}
	if prev > math.MaxUint64-amount {
		return cur, 0, fmt.Errorf("%w: pledge %d on top of %d", ErrAmountOverflow, amount, prev)
	}
	total := prev + amount

	if cur.BindingBid > math.MaxUint64-increment || total < cur.BindingBid+increment {
		return cur, 0, fmt.Errorf("%w: cumulative %d must reach %d+%d", ErrBidTooLow, total, cur.BindingBid, increment)
	}

	if cur.Leader == "" {
		return Standing{Leader: bidder, HighestBid: total, BindingBid: total}, total, nil
	}
	return Standing{
		Leader:     bidder,
		HighestBid: total,
		BindingBid: min(total, satAdd(cur.HighestBid, increment)),
	}, total, nil
}

func satAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
