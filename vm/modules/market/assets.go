package market

import (
	"fmt"

	"github.com/tolelom/bidchain/auction"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/vm/modules/economy"
	"github.com/tolelom/bidchain/vm/modules/token"
)

// NativeAsset escrows chain currency in the account addressed by the
// auction ID. The bid amount is the value attached to the call and is
// debited from the bidder directly.
type NativeAsset struct {
	State  core.State
	Escrow string
}

func (n NativeAsset) Deposit(from string, amount uint64) error {
	return economy.Move(n.State, from, n.Escrow, amount)
}

func (n NativeAsset) PayOut(to string, amount uint64) error {
	return economy.Move(n.State, n.Escrow, to, amount)
}

// LedgerAsset escrows a registered token in the balance of the auction ID.
// Bidders must first approve the auction ID as spender.
type LedgerAsset struct {
	State   core.State
	TokenID string
	Escrow  string
}

func (l LedgerAsset) Deposit(from string, amount uint64) error {
	return token.TransferFrom(l.State, l.TokenID, l.Escrow, from, l.Escrow, amount)
}

func (l LedgerAsset) PayOut(to string, amount uint64) error {
	return token.Transfer(l.State, l.TokenID, l.Escrow, to, amount)
}

// assetFor selects the asset implementation for a. Nothing else in the
// module looks at the asset kind.
func assetFor(state core.State, a *core.Auction) (auction.Asset, error) {
	switch a.Asset.Kind {
	case core.AssetNative:
		return NativeAsset{State: state, Escrow: a.ID}, nil
	case core.AssetToken:
		return LedgerAsset{State: state, TokenID: a.Asset.TokenID, Escrow: a.ID}, nil
	default:
		return nil, fmt.Errorf("auction %s: unknown asset kind %q", a.ID, a.Asset.Kind)
	}
}

// stateLedger stores one auction's bid ledger in chain state.
type stateLedger struct {
	state     core.State
	auctionID string
}

func (l stateLedger) Bid(bidder string) (uint64, error) {
	return l.state.GetBid(l.auctionID, bidder)
}

func (l stateLedger) SetBid(bidder string, amount uint64) error {
	return l.state.SetBid(l.auctionID, bidder, amount)
}
