package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/directory"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/indexer"
	"github.com/tolelom/bidchain/logdb"
	"github.com/tolelom/bidchain/vm"
)

const queryTimeout = 5 * time.Second

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	dir     *directory.Directory
	indexer *indexer.Indexer
	logs    *logdb.LogDB // may be nil; history methods then report not found
	chainID string       // expected chain_id; used to reject cross-chain replay transactions

	// OnTx, if set, is called with every transaction accepted by sendTx.
	OnTx func(*core.Transaction)
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, dir *directory.Directory, idx *indexer.Indexer, logs *logdb.LogDB, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, dir: dir, indexer: idx, logs: logs, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getChainInfo":
		return okResponse(req.ID, ChainInfo{ChainID: h.chainID, Height: h.bc.Height(), TxTypes: vm.Types()})

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	case "sendTx":
		return h.sendTx(req)

	case "getReceipt":
		return h.getReceipt(req)

	// tokens
	case "getToken":
		return h.getToken(req)

	case "getTokenBalance":
		return h.getTokenBalance(req)

	case "getAllowance":
		return h.getAllowance(req)

	// auction directory
	case "listAuctions":
		return h.listAuctions(req, h.dir.ListAll)

	case "listActiveAuctions":
		return h.listAuctions(req, h.dir.ListActive)

	case "isKnownAuction":
		return h.isKnownAuction(req)

	case "getAuction":
		return h.getAuction(req)

	case "getBid":
		return h.getBid(req)

	case "getBids":
		return h.getBids(req)

	case "getAuctionHistory":
		return h.getAuctionHistory(req)

	case "getAuctionsBySeller":
		return h.auctionsBy(req, "seller", h.indexer.AuctionsBySeller)

	case "getAuctionsByBidder":
		return h.auctionsBy(req, "bidder", h.indexer.AuctionsByBidder)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// decode unmarshals params into v. Missing params decode as an empty object.
func decode(req Request, v any) *Response {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return &resp
	}
	return nil
}

func required(req Request, name, value string) *Response {
	if value != "" {
		return nil
	}
	resp := errResponse(req.ID, CodeInvalidParams, name+" is required")
	return &resp
}

// stateErr maps lookup failures to a not-found error and anything else to
// an internal error.
func stateErr(id any, err error) Response {
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, directory.ErrUnknownAuction) {
		return errResponse(id, CodeNotFound, err.Error())
	}
	return errResponse(id, CodeInternalError, err.Error())
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return stateErr(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	if r := required(req, "address", params.Address); r != nil {
		return *r
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return stateErr(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	if !vm.Supported(tx.Type) {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unsupported tx type %q", tx.Type))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		code := CodeInternalError
		if !errors.Is(err, core.ErrMempoolFull) {
			code = CodeInvalidParams
		}
		return errResponse(req.ID, code, err.Error())
	}
	if h.OnTx != nil {
		h.OnTx(&tx)
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getReceipt(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	if r := required(req, "tx_id", params.TxID); r != nil {
		return *r
	}
	if _, pending := h.mempool.Get(params.TxID); pending {
		return okResponse(req.ID, map[string]any{"tx_id": params.TxID, "status": "pending"})
	}
	if h.logs == nil {
		return errResponse(req.ID, CodeNotFound, "receipts are not recorded on this node")
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	r, err := h.logs.Receipt(ctx, params.TxID)
	if err != nil {
		return stateErr(req.ID, err)
	}
	return okResponse(req.ID, r)
}

func (h *Handler) getToken(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	if r := required(req, "id", params.ID); r != nil {
		return *r
	}
	t, err := h.state.GetToken(params.ID)
	if err != nil {
		return stateErr(req.ID, err)
	}
	return okResponse(req.ID, t)
}

func (h *Handler) getTokenBalance(req Request) Response {
	var params struct {
		TokenID string `json:"token_id"`
		Owner   string `json:"owner"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	if r := required(req, "token_id", params.TokenID); r != nil {
		return *r
	}
	if r := required(req, "owner", params.Owner); r != nil {
		return *r
	}
	bal, err := h.state.GetTokenBalance(params.TokenID, params.Owner)
	if err != nil {
		return stateErr(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"token_id": params.TokenID, "owner": params.Owner, "balance": bal})
}

func (h *Handler) getAllowance(req Request) Response {
	var params struct {
		TokenID string `json:"token_id"`
		Owner   string `json:"owner"`
		Spender string `json:"spender"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	for _, f := range []struct{ name, v string }{{"token_id", params.TokenID}, {"owner", params.Owner}, {"spender", params.Spender}} {
		if r := required(req, f.name, f.v); r != nil {
			return *r
		}
	}
	amt, err := h.state.GetAllowance(params.TokenID, params.Owner, params.Spender)
	if err != nil {
		return stateErr(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"token_id": params.TokenID, "owner": params.Owner, "spender": params.Spender, "allowance": amt})
}

func (h *Handler) listAuctions(req Request, list func() ([]*core.Auction, error)) Response {
	auctions, err := list()
	if err != nil {
		return stateErr(req.ID, err)
	}
	ids := make([]string, len(auctions))
	for i, a := range auctions {
		ids[i] = a.ID
	}
	return okResponse(req.ID, ids)
}

type auctionParams struct {
	AuctionID string `json:"auction_id"`
}

func (h *Handler) auctionID(req Request) (string, *Response) {
	var params auctionParams
	if r := decode(req, &params); r != nil {
		return "", r
	}
	return params.AuctionID, required(req, "auction_id", params.AuctionID)
}

func (h *Handler) isKnownAuction(req Request) Response {
	id, r := h.auctionID(req)
	if r != nil {
		return *r
	}
	known, err := h.dir.IsKnown(id)
	if err != nil {
		return stateErr(req.ID, err)
	}
	return okResponse(req.ID, known)
}

func (h *Handler) getAuction(req Request) Response {
	id, r := h.auctionID(req)
	if r != nil {
		return *r
	}
	info, err := h.dir.Info(id)
	if err != nil {
		return stateErr(req.ID, err)
	}
	return okResponse(req.ID, info)
}

func (h *Handler) getBid(req Request) Response {
	var params struct {
		AuctionID string `json:"auction_id"`
		Bidder    string `json:"bidder"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	if r := required(req, "auction_id", params.AuctionID); r != nil {
		return *r
	}
	if r := required(req, "bidder", params.Bidder); r != nil {
		return *r
	}
	amt, err := h.dir.Bid(params.AuctionID, params.Bidder)
	if err != nil {
		return stateErr(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"auction_id": params.AuctionID, "bidder": params.Bidder, "amount": amt})
}

func (h *Handler) getBids(req Request) Response {
	id, r := h.auctionID(req)
	if r != nil {
		return *r
	}
	bids, err := h.dir.Bids(id)
	if err != nil {
		return stateErr(req.ID, err)
	}
	return okResponse(req.ID, bids)
}

func (h *Handler) getAuctionHistory(req Request) Response {
	var params struct {
		AuctionID string   `json:"auction_id"`
		Types     []string `json:"types"`
		Desc      bool     `json:"desc"`
		Offset    uint64   `json:"offset"`
		Limit     uint64   `json:"limit"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	if r := required(req, "auction_id", params.AuctionID); r != nil {
		return *r
	}
	if h.logs == nil {
		return errResponse(req.ID, CodeNotFound, "history is not recorded on this node")
	}
	filter := &logdb.EventFilter{AuctionID: params.AuctionID, Order: logdb.ASC}
	if params.Desc {
		filter.Order = logdb.DESC
	}
	for _, t := range params.Types {
		filter.Types = append(filter.Types, events.EventType(t))
	}
	if params.Limit > 0 {
		filter.Options = &logdb.Options{Offset: params.Offset, Limit: params.Limit}
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	evs, err := h.logs.FilterEvents(ctx, filter)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if evs == nil {
		evs = []*logdb.Event{}
	}
	return okResponse(req.ID, evs)
}

func (h *Handler) auctionsBy(req Request, field string, lookup func(string) ([]string, error)) Response {
	var params map[string]string
	if r := decode(req, &params); r != nil {
		return *r
	}
	if r := required(req, field, params[field]); r != nil {
		return *r
	}
	ids, err := lookup(params[field])
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return okResponse(req.ID, ids)
}
