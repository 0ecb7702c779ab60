package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tolelom/bidchain/crypto"
	"gopkg.in/yaml.v3"
)

// GenesisToken is a token minted to its issuer in the genesis block.
type GenesisToken struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Name     string `json:"name" yaml:"name"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
	Supply   uint64 `json:"supply" yaml:"supply"`
	Issuer   string `json:"issuer" yaml:"issuer"` // pubkey hex
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID        string            `json:"chain_id" yaml:"chain_id"`
	NativeSymbol   string            `json:"native_symbol" yaml:"native_symbol"`
	NativeDecimals int32             `json:"native_decimals" yaml:"native_decimals"` // display only
	Alloc          map[string]uint64 `json:"alloc" yaml:"alloc"`                     // pubkey hex → initial balance
	Tokens         []GenesisToken    `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Timestamp      int64             `json:"timestamp" yaml:"timestamp"` // unix nanoseconds of block #0
}

// TLSConfig holds PEM paths for mutual TLS between nodes. Dir points at a
// directory written by -gencerts; explicit paths override it.
type TLSConfig struct {
	Dir      string   `json:"dir,omitempty" yaml:"dir,omitempty"`
	CACert   string   `json:"ca_cert,omitempty" yaml:"ca_cert,omitempty"`
	NodeCert string   `json:"node_cert,omitempty" yaml:"node_cert,omitempty"`
	NodeKey  string   `json:"node_key,omitempty" yaml:"node_key,omitempty"`
	Hosts    []string `json:"hosts,omitempty" yaml:"hosts,omitempty"` // extra SANs for -gencerts
}

// SeedPeer is a node dialled on startup.
type SeedPeer struct {
	ID   string `json:"id" yaml:"id"`
	Addr string `json:"addr" yaml:"addr"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string        `json:"node_id" yaml:"node_id"`
	DataDir       string        `json:"data_dir" yaml:"data_dir"`
	RPCPort       int           `json:"rpc_port" yaml:"rpc_port"`
	RPCAuthToken  string        `json:"rpc_auth_token,omitempty" yaml:"rpc_auth_token,omitempty"` // bearer token for sendTx; empty disables auth
	APIPort       int           `json:"api_port" yaml:"api_port"`                                 // REST directory API; 0 disables
	P2PPort       int           `json:"p2p_port" yaml:"p2p_port"`
	BlockInterval Duration      `json:"block_interval" yaml:"block_interval"`
	MaxBlockTxs   int           `json:"max_block_txs" yaml:"max_block_txs"` // max transactions per block; 0 → 500
	Validators    []string      `json:"validators" yaml:"validators"`       // authorised proposer pubkey hexes
	SeedPeers     []SeedPeer    `json:"seed_peers,omitempty" yaml:"seed_peers,omitempty"`
	TLS           *TLSConfig    `json:"tls,omitempty" yaml:"tls,omitempty"`
	LogLevel      string        `json:"log_level" yaml:"log_level"`     // debug, info, warn, error
	LogDBPath     string        `json:"log_db_path" yaml:"log_db_path"` // sqlite event history; "" → <data_dir>/logs.db
	Genesis       GenesisConfig `json:"genesis" yaml:"genesis"`
}

// Duration is a time.Duration that reads and writes as a string like "2s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		RPCPort:       8545,
		APIPort:       8080,
		P2PPort:       30303,
		BlockInterval: Duration(2 * time.Second),
		MaxBlockTxs:   500,
		LogLevel:      "info",
		Genesis: GenesisConfig{
			ChainID:        "bidchain-dev",
			NativeSymbol:   "BID",
			NativeDecimals: 6,
			Alloc:          map[string]uint64{},
		},
	}
}

// Validate checks the fields a node cannot start without.
func (c *Config) Validate() error {
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id required")
	}
	if c.BlockInterval <= 0 {
		return fmt.Errorf("block_interval must be positive")
	}
	for _, v := range c.Validators {
		if err := crypto.ValidateAddress(v); err != nil {
			return fmt.Errorf("validator: %w", err)
		}
	}
	for addr := range c.Genesis.Alloc {
		if err := crypto.ValidateAddress(addr); err != nil {
			return fmt.Errorf("genesis alloc: %w", err)
		}
	}
	for _, t := range c.Genesis.Tokens {
		if t.Symbol == "" || t.Supply == 0 {
			return fmt.Errorf("genesis token %q needs symbol and supply", t.Symbol)
		}
		if err := crypto.ValidateAddress(t.Issuer); err != nil {
			return fmt.Errorf("genesis token %q issuer: %w", t.Symbol, err)
		}
	}
	return nil
}

// LogDB returns the sqlite path for the event history.
func (c *Config) LogDB() string {
	if c.LogDBPath != "" {
		return c.LogDBPath
	}
	return filepath.Join(c.DataDir, "logs.db")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads a config file from path. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path in the format its extension selects.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
