package config

import (
	"strings"

	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisTokenID is the ID of a token minted at genesis.
func GenesisTokenID(chainID, symbol string) string {
	return crypto.DeriveID(chainID, "genesis-token", symbol)
}

// CreateGenesisBlock builds block #0 from the genesis section and writes the
// initial balances and tokens to state. The block depends on the genesis
// section alone, so every node of a chain derives the same one; it carries no
// proposer and no signature.
func CreateGenesisBlock(cfg *Config, state core.State) (*core.Block, error) {
	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		acc := &core.Account{Address: pubkeyHex, Balance: balance}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}
	for _, gt := range cfg.Genesis.Tokens {
		t := &core.Token{
			ID:          GenesisTokenID(cfg.Genesis.ChainID, gt.Symbol),
			Symbol:      gt.Symbol,
			Name:        gt.Name,
			Decimals:    gt.Decimals,
			Issuer:      gt.Issuer,
			TotalSupply: gt.Supply,
		}
		if err := state.SetToken(t); err != nil {
			return nil, err
		}
		if err := state.SetTokenBalance(t.ID, t.Issuer, t.TotalSupply); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, "", cfg.Genesis.Timestamp, nil)
	block.Header.StateRoot = stateRoot
	// The genesis TxRoot commits to the chain ID.
	block.Header.TxRoot = crypto.DeriveID(cfg.Genesis.ChainID, "genesis")
	block.Hash = block.ComputeHash()
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
