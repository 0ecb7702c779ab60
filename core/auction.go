package core

import "fmt"

// AssetKind selects how an auction moves value.
type AssetKind string

const (
	AssetNative AssetKind = "native" // chain account balances
	AssetToken  AssetKind = "token"  // a token registered with create_token
)

// AuctionAsset names the currency an auction is denominated in.
// TokenID is empty for native auctions.
type AuctionAsset struct {
	Kind    AssetKind `json:"kind"`
	TokenID string    `json:"token_id,omitempty"`
}

// Validate checks that the asset reference is well formed.
func (a AuctionAsset) Validate() error {
	switch a.Kind {
	case AssetNative:
		if a.TokenID != "" {
			return fmt.Errorf("native asset must not name a token (got %q)", a.TokenID)
		}
	case AssetToken:
		if a.TokenID == "" {
			return fmt.Errorf("token asset requires token_id")
		}
	default:
		return fmt.Errorf("unknown asset kind %q", a.Kind)
	}
	return nil
}

// Phase is the lifecycle position of an auction at a given time.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseActive   Phase = "active"
	PhaseCanceled Phase = "canceled"
	PhaseEnded    Phase = "ended"
)

// Auction is one proxy-bidding English auction for a single lot.
// Everything above Canceled is fixed at creation.
type Auction struct {
	ID          string       `json:"id"`
	Seller      string       `json:"seller"` // pubkey hex
	Name        string       `json:"name"`
	Description string       `json:"description"`
	MinBid      uint64       `json:"min_bid"`
	Increment   uint64       `json:"increment"`
	Start       int64        `json:"start"` // unix nanoseconds
	End         int64        `json:"end"`   // unix nanoseconds, exclusive
	Asset       AuctionAsset `json:"asset"`
	CreatedAt   int64        `json:"created_at"`

	Canceled bool `json:"canceled"`
	Ended    bool `json:"ended"`

	HighestBidder     string `json:"highest_bidder,omitempty"` // "" while nobody has bid
	HighestBid        uint64 `json:"highest_bid"`
	HighestBindingBid uint64 `json:"highest_binding_bid"`
}

// PhaseAt reports the auction phase at now. A canceled auction stays
// canceled even after the seller settles it.
func (a *Auction) PhaseAt(now int64) Phase {
	switch {
	case a.Canceled:
		return PhaseCanceled
	case a.Ended:
		return PhaseEnded
	case now < a.Start:
		return PhasePending
	case now < a.End:
		return PhaseActive
	default:
		// Past the end but not yet finalized: no longer accepting bids.
		return PhaseEnded
	}
}

// IsActiveAt reports whether bids are accepted at now.
func (a *Auction) IsActiveAt(now int64) bool {
	return a.PhaseAt(now) == PhaseActive
}

// Settled reports whether funds may be withdrawn from the auction.
func (a *Auction) Settled() bool {
	return a.Canceled || a.Ended
}

// HasLeader reports whether at least one bid has been accepted.
func (a *Auction) HasLeader() bool {
	return a.HighestBidder != ""
}
