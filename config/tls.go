package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/tolelom/bidchain/crypto/certgen"
)

// resolve fills empty PEM paths from Dir using the certgen layout.
func (t *TLSConfig) resolve(nodeID string) TLSConfig {
	r := *t
	if r.Dir == "" {
		return r
	}
	ca, cert, key := certgen.Paths(r.Dir, nodeID)
	if r.CACert == "" {
		r.CACert = ca
	}
	if r.NodeCert == "" {
		r.NodeCert = cert
	}
	if r.NodeKey == "" {
		r.NodeKey = key
	}
	return r
}

// LoadTLSConfig builds the mutual-TLS config for nodeID. A nil or empty
// section returns (nil, nil) and the node falls back to plain TCP; a section
// naming only some of the files is an error.
func LoadTLSConfig(cfg *TLSConfig, nodeID string) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}
	r := cfg.resolve(nodeID)
	set := 0
	for _, p := range []string{r.CACert, r.NodeCert, r.NodeKey} {
		if p != "" {
			set++
		}
	}
	switch set {
	case 0:
		return nil, nil
	case 3:
	default:
		return nil, errors.New("tls: ca_cert, node_cert and node_key must be set together (or use dir)")
	}

	cert, err := tls.LoadX509KeyPair(r.NodeCert, r.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("load node cert/key: %w", err)
	}
	caPEM, err := os.ReadFile(r.CACert)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates in %s", r.CACert)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		RootCAs:      pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
