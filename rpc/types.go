// Package rpc exposes chain state and the auction directory over JSON-RPC 2.0.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/bidchain/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is sent; a zero Result (height 0, false) is still sent.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result"`
	Error   *Error `json:"error,omitempty"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string `json:"jsonrpc"`
			ID      any    `json:"id"`
			Error   *Error `json:"error"`
		}{r.JSONRPC, r.ID, r.Error})
	}
	type plain Response
	return json.Marshal(plain(r))
}

// Error is a JSON-RPC error object. It doubles as the Go error returned by
// Client.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server-defined range.
	CodeUnauthorized = -32000
	CodeNotFound     = -32001
)

// ChainInfo is the result of getChainInfo.
type ChainInfo struct {
	ChainID string        `json:"chain_id"`
	Height  int64         `json:"height"`
	TxTypes []core.TxType `json:"tx_types"`
}

func errResponse(id any, code int, msg string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: msg}}
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
