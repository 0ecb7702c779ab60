package auction

// Ledger stores each bidder's cumulative pledge for one auction.
// A zero amount means the bidder has no entry.
type Ledger interface {
	Bid(bidder string) (uint64, error)
	SetBid(bidder string, amount uint64) error
}
