package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/bidchain/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer TxType = "transfer"

	// Token ledger
	TxCreateToken       TxType = "create_token"
	TxTokenTransfer     TxType = "token_transfer"
	TxTokenApprove      TxType = "token_approve"
	TxTokenTransferFrom TxType = "token_transfer_from"

	// Auctions
	TxCreateAuction   TxType = "create_auction"
	TxPlaceBid        TxType = "place_bid"
	TxCancelAuction   TxType = "cancel_auction"
	TxFinalizeAuction TxType = "finalize_auction"
	TxEndAuctionEarly TxType = "end_auction_early"
	TxWithdrawBid     TxType = "withdraw_bid"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = priv.Sign([]byte(hash))
	tx.ID = hash
}

// Verify checks that ID is the transaction hash, that From is a valid public
// key and that it signed the hash. IDs seed derived identifiers such as
// auction IDs, so they must never be chosen freely.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	hash := tx.Hash()
	if tx.ID != hash {
		return fmt.Errorf("tx id %q does not match hash %s", tx.ID, hash)
	}
	return pub.Verify([]byte(hash), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// CreateTokenPayload registers a fungible token and mints its whole supply
// to the sender.
type CreateTokenPayload struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	Supply   uint64 `json:"supply"`
}

// TokenTransferPayload moves tokens owned by the sender.
type TokenTransferPayload struct {
	TokenID string `json:"token_id"`
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
}

// TokenApprovePayload sets the amount Spender may pull from the sender.
// Approving replaces any previous allowance.
type TokenApprovePayload struct {
	TokenID string `json:"token_id"`
	Spender string `json:"spender"`
	Amount  uint64 `json:"amount"`
}

// TokenTransferFromPayload spends an allowance granted to the sender.
type TokenTransferFromPayload struct {
	TokenID string `json:"token_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
}

// CreateAuctionPayload opens a new auction with the sender as seller.
// Start and End are unix nanoseconds compared against block timestamps.
type CreateAuctionPayload struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	MinBid      uint64       `json:"min_bid"`
	Increment   uint64       `json:"increment"`
	Start       int64        `json:"start"`
	End         int64        `json:"end"`
	Asset       AuctionAsset `json:"asset"`
}

// PlaceBidPayload pledges Amount more on top of the sender's existing bid.
// In native mode Amount is the value attached to the call; in token mode
// it is pulled through the token allowance granted to the auction.
type PlaceBidPayload struct {
	AuctionID string `json:"auction_id"`
	Amount    uint64 `json:"amount"`
}

// AuctionPayload addresses an auction for the seller-only and withdraw
// operations, which carry no other arguments.
type AuctionPayload struct {
	AuctionID string `json:"auction_id"`
}
