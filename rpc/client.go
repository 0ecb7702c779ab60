package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tolelom/bidchain/core"
)

// Client calls a node's JSON-RPC endpoint.
type Client struct {
	url       string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewClient returns a Client for url. authToken may be empty.
func NewClient(url, authToken string) *Client {
	return &Client{url: url, authToken: authToken, http: &http.Client{Timeout: 30 * time.Second}}
}

// Call invokes method with params and decodes the result into out, which
// may be nil. A JSON-RPC error is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: raw})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return fmt.Errorf("decode response (%s): %w", res.Status, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// SendTx submits a signed transaction and returns its ID.
func (c *Client) SendTx(ctx context.Context, tx *core.Transaction) (string, error) {
	var out struct {
		TxID string `json:"tx_id"`
	}
	if err := c.Call(ctx, "sendTx", tx, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

// Nonce returns the next nonce of address.
func (c *Client) Nonce(ctx context.Context, address string) (uint64, error) {
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := c.Call(ctx, "getBalance", map[string]string{"address": address}, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}
