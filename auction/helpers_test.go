package auction

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/core"
)

const (
	seller = "seller"
	alice  = "alice"
	bob    = "bob"
	carol  = "carol"
)

// memLedger is an in-memory Ledger.
type memLedger map[string]uint64

func (m memLedger) Bid(bidder string) (uint64, error) { return m[bidder], nil }

func (m memLedger) SetBid(bidder string, amount uint64) error {
	if amount == 0 {
		delete(m, bidder)
		return nil
	}
	m[bidder] = amount
	return nil
}

func (m memLedger) total() uint64 {
	var sum uint64
	for _, v := range m {
		sum += v
	}
	return sum
}

// memAsset is an in-memory Asset with one escrow pot.
type memAsset struct {
	balances    map[string]uint64
	escrow      uint64
	failDeposit bool
	failPayOut  bool
	onPayOut    func()
}

func newMemAsset() *memAsset {
	return &memAsset{balances: map[string]uint64{alice: 1000, bob: 1000, carol: 1000}}
}

func (m *memAsset) Deposit(from string, amount uint64) error {
	if m.failDeposit {
		return errors.New("allowance exceeded")
	}
	if m.balances[from] < amount {
		return fmt.Errorf("insufficient balance: have %d need %d", m.balances[from], amount)
	}
	m.balances[from] -= amount
	m.escrow += amount
	return nil
}

func (m *memAsset) PayOut(to string, amount uint64) error {
	if m.onPayOut != nil {
		m.onPayOut()
	}
	if m.failPayOut {
		return errors.New("transfer refused")
	}
	if m.escrow < amount {
		return fmt.Errorf("escrow short: have %d need %d", m.escrow, amount)
	}
	m.escrow -= amount
	m.balances[to] += amount
	return nil
}

type fixture struct {
	auction *core.Auction
	ledger  memLedger
	asset   *memAsset
	escrow  *Escrow
}

// newFixture builds an auction open in [100, 200) with increment 10 and no
// minimum bid.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	a := &core.Auction{
		ID:        "auction-1",
		Seller:    seller,
		Name:      "lot",
		MinBid:    0,
		Increment: 10,
		Start:     100,
		End:       200,
		Asset:     core.AuctionAsset{Kind: core.AssetNative},
	}
	f := &fixture{auction: a, ledger: memLedger{}, asset: newMemAsset()}
	f.escrow = New(a, f.ledger, f.asset)
	return f
}

func (f *fixture) bid(t *testing.T, now int64, bidder string, amount uint64) *BidResult {
	t.Helper()
	res, err := f.escrow.PlaceBid(now, bidder, amount)
	require.NoError(t, err)
	f.checkInvariants(t)
	return res
}

func (f *fixture) checkInvariants(t *testing.T) {
	t.Helper()
	a := f.auction
	require.LessOrEqual(t, a.HighestBindingBid, a.HighestBid)
	require.Equal(t, f.asset.escrow, f.ledger.total(), "ledger total must match escrow")
	if a.HasLeader() && !a.Settled() {
		require.Equal(t, a.HighestBid, f.ledger[a.HighestBidder], "leader entry must equal highest bid")
	}
}
