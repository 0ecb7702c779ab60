package config

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/crypto"
	"github.com/tolelom/bidchain/crypto/certgen"
)

func testAddr(t *testing.T) string {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pub.Hex()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	addr := testAddr(t)
	for _, name := range []string{"node.json", "node.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.BlockInterval = Duration(750 * time.Millisecond)
			cfg.Validators = []string{addr}
			cfg.Genesis.Alloc[addr] = 42
			cfg.Genesis.Tokens = []GenesisToken{{Symbol: "GLD", Supply: 10, Issuer: addr}}

			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Save(cfg, path))
			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, got)
		})
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: n7\nblock_interval: 5s\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "n7", cfg.NodeID)
	assert.Equal(t, Duration(5*time.Second), cfg.BlockInterval)
	assert.Equal(t, 8545, cfg.RPCPort)
	assert.Equal(t, filepath.Join("./data", "logs.db"), cfg.LogDB())
}

func TestValidate(t *testing.T) {
	addr := testAddr(t)
	cases := map[string]func(*Config){
		"no chain id":      func(c *Config) { c.Genesis.ChainID = "" },
		"zero interval":    func(c *Config) { c.BlockInterval = 0 },
		"bad validator":    func(c *Config) { c.Validators = []string{"alice"} },
		"bad alloc":        func(c *Config) { c.Genesis.Alloc["ALICE"] = 1 },
		"token no supply":  func(c *Config) { c.Genesis.Tokens = []GenesisToken{{Symbol: "X", Issuer: addr}} },
		"token bad issuer": func(c *Config) { c.Genesis.Tokens = []GenesisToken{{Symbol: "X", Supply: 1, Issuer: "me"}} },
	}
	require.NoError(t, DefaultConfig().Validate())
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadTLSConfig(t *testing.T) {
	tlsCfg, err := LoadTLSConfig(nil, "n0")
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	_, err = LoadTLSConfig(&TLSConfig{CACert: "ca.crt"}, "n0")
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, certgen.GenerateAll(dir, "n0", &certgen.Options{Hosts: []string{"10.0.0.7", "node0.internal"}}))
	require.NoError(t, certgen.GenerateAll(dir, "n1", nil))

	tlsCfg, err = LoadTLSConfig(&TLSConfig{Dir: dir}, "n0")
	require.NoError(t, err)
	require.Len(t, tlsCfg.Certificates, 1)

	// Both nodes chain to the one CA in dir.
	caPath, _, _ := certgen.Paths(dir, "n0")
	roots := x509.NewCertPool()
	caPEM, err := os.ReadFile(caPath)
	require.NoError(t, err)
	require.True(t, roots.AppendCertsFromPEM(caPEM))
	for _, node := range []string{"n0", "n1"} {
		_, certPath, _ := certgen.Paths(dir, node)
		data, err := os.ReadFile(certPath)
		require.NoError(t, err)
		block, _ := pem.Decode(data)
		require.NotNil(t, block)
		cert, err := x509.ParseCertificate(block.Bytes)
		require.NoError(t, err)
		_, err = cert.Verify(x509.VerifyOptions{Roots: roots, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}})
		require.NoError(t, err, node)
		if node == "n0" {
			assert.Contains(t, cert.DNSNames, "node0.internal")
			assert.True(t, strings.Contains(cert.IPAddresses[len(cert.IPAddresses)-1].String(), "10.0.0.7"))
		}
	}
}
