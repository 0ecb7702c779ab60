// Package wallet signs bidchain transactions and keeps keys in encrypted
// keystore files.
package wallet

import (
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers for
// one chain.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey, chainID string) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv, chainID), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// ChainID returns the chain the wallet signs for.
func (w *Wallet) ChainID() string {
	return w.chainID
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed native transfer.
func (w *Wallet) Transfer(to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, nonce, fee, core.TransferPayload{To: to, Amount: amount})
}

// CreateToken registers a token with the wallet as issuer.
func (w *Wallet) CreateToken(p core.CreateTokenPayload, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxCreateToken, nonce, fee, p)
}

// TokenTransfer sends tokens owned by the wallet.
func (w *Wallet) TokenTransfer(tokenID, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTokenTransfer, nonce, fee, core.TokenTransferPayload{TokenID: tokenID, To: to, Amount: amount})
}

// Approve lets spender pull up to amount of the wallet's tokens. To bid in a
// token auction, approve the auction ID.
func (w *Wallet) Approve(tokenID, spender string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTokenApprove, nonce, fee, core.TokenApprovePayload{TokenID: tokenID, Spender: spender, Amount: amount})
}

// CreateAuction opens an auction with the wallet as seller.
func (w *Wallet) CreateAuction(p core.CreateAuctionPayload, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxCreateAuction, nonce, fee, p)
}

// PlaceBid pledges amount more to auctionID.
func (w *Wallet) PlaceBid(auctionID string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxPlaceBid, nonce, fee, core.PlaceBidPayload{AuctionID: auctionID, Amount: amount})
}

// AuctionTx builds one of the argument-free auction operations:
// cancel, finalize, end early or withdraw.
func (w *Wallet) AuctionTx(typ core.TxType, auctionID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(typ, nonce, fee, core.AuctionPayload{AuctionID: auctionID})
}
