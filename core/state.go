package core

// Account holds a participant's native balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key, or an auction ID for the
// account that escrows native-currency bids.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// Token is a fungible token registered on the chain. Balances and
// allowances are stored separately, keyed by token ID.
type Token struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Decimals    uint8  `json:"decimals"`
	Issuer      string `json:"issuer"` // pubkey hex
	TotalSupply uint64 `json:"total_supply"`
	CreatedAt   int64  `json:"created_at"`
}

// State is the full blockchain state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Tokens
	GetToken(id string) (*Token, error)
	SetToken(t *Token) error
	GetTokenBalance(tokenID, owner string) (uint64, error)
	SetTokenBalance(tokenID, owner string, amount uint64) error
	GetAllowance(tokenID, owner, spender string) (uint64, error)
	SetAllowance(tokenID, owner, spender string, amount uint64) error

	// Auctions
	GetAuction(id string) (*Auction, error)
	SetAuction(a *Auction) error
	// Auctions returns every auction ever created, ordered by creation time.
	Auctions() ([]*Auction, error)

	// Bid ledger: cumulative pledge per bidder per auction.
	GetBid(auctionID, bidder string) (uint64, error)
	SetBid(auctionID, bidder string, amount uint64) error
	// Bids returns the non-zero ledger entries of one auction.
	Bids(auctionID string) (map[string]uint64, error)

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
