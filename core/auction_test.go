package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseAt(t *testing.T) {
	a := &Auction{Start: 100, End: 200}

	assert.Equal(t, PhasePending, a.PhaseAt(99))
	assert.Equal(t, PhaseActive, a.PhaseAt(100))
	assert.Equal(t, PhaseActive, a.PhaseAt(199))
	assert.Equal(t, PhaseEnded, a.PhaseAt(200))
	assert.True(t, a.IsActiveAt(150))
	assert.False(t, a.Settled())

	a.Ended = true
	assert.Equal(t, PhaseEnded, a.PhaseAt(150))

	// Canceled wins over ended.
	a.Canceled = true
	assert.Equal(t, PhaseCanceled, a.PhaseAt(150))
	assert.False(t, a.IsActiveAt(150))
}

func TestAuctionAssetValidate(t *testing.T) {
	assert.NoError(t, AuctionAsset{Kind: AssetNative}.Validate())
	assert.NoError(t, AuctionAsset{Kind: AssetToken, TokenID: "t"}.Validate())
	assert.Error(t, AuctionAsset{Kind: AssetNative, TokenID: "t"}.Validate())
	assert.Error(t, AuctionAsset{Kind: AssetToken}.Validate())
	assert.Error(t, AuctionAsset{Kind: "shells"}.Validate())
}
