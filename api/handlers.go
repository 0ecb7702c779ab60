package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/directory"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/logdb"
)

// Amounts shows raw ledger units scaled by the asset's decimals.
type Amounts struct {
	Symbol     string `json:"symbol"`
	MinBid     string `json:"min_bid"`
	Increment  string `json:"increment"`
	HighestBid string `json:"highest_bid"`
	BindingBid string `json:"binding_bid"`
}

// AuctionView is an auction as served by the API.
type AuctionView struct {
	*directory.Info
	Display Amounts `json:"display"`
}

// BidView is one bidder's pledge.
type BidView struct {
	Bidder  string `json:"bidder"`
	Amount  uint64 `json:"amount"`
	Display string `json:"display"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, directory.ErrUnknownAuction), errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

// display renders v with the given number of decimals.
func display(v uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals).String()
}

// unit returns the symbol and decimals an auction is denominated in.
func (s *Server) unit(a core.AuctionAsset) (string, int32) {
	if a.Kind == core.AssetToken {
		if t, err := s.backend.State.GetToken(a.TokenID); err == nil {
			return t.Symbol, int32(t.Decimals)
		}
		return a.TokenID, 0
	}
	return s.backend.NativeSymbol, s.backend.NativeDecimals
}

func (s *Server) view(info *directory.Info) *AuctionView {
	sym, dec := s.unit(info.Asset)
	return &AuctionView{
		Info: info,
		Display: Amounts{
			Symbol:     sym,
			MinBid:     display(info.MinBid, dec),
			Increment:  display(info.Increment, dec),
			HighestBid: display(info.HighestBid, dec),
			BindingBid: display(info.HighestBindingBid, dec),
		},
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "height": s.backend.Chain.Height()}
	if tip := s.backend.Chain.Tip(); tip != nil {
		body["tip"] = tip.Hash
		body["timestamp"] = tip.Header.Timestamp
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listViews(w http.ResponseWriter, auctions []*core.Auction, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	now := s.backend.Directory.Now()
	out := make([]*AuctionView, len(auctions))
	for i, a := range auctions {
		out[i] = s.view(directory.Describe(a, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.backend.Directory.ListAll()
	s.listViews(w, auctions, err)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.backend.Directory.ListActive()
	s.listViews(w, auctions, err)
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	info, err := s.backend.Directory.Info(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(info))
}

func (s *Server) handleGetBids(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := s.backend.Directory.Info(id)
	if err != nil {
		writeError(w, err)
		return
	}
	bids, err := s.backend.Directory.Bids(id)
	if err != nil {
		writeError(w, err)
		return
	}
	_, dec := s.unit(info.Asset)
	out := make([]BidView, 0, len(bids))
	for bidder, amt := range bids {
		out = append(out, BidView{Bidder: bidder, Amount: amt, Display: display(amt, dec)})
	}
	sortBids(out)
	writeJSON(w, http.StatusOK, out)
}

// sortBids orders pledges largest first, ties by bidder.
func sortBids(bids []BidView) {
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount > bids[j].Amount
		}
		return bids[i].Bidder < bids[j].Bidder
	})
}

func (s *Server) handleGetBid(w http.ResponseWriter, r *http.Request) {
	id, bidder := chi.URLParam(r, "id"), chi.URLParam(r, "bidder")
	info, err := s.backend.Directory.Info(id)
	if err != nil {
		writeError(w, err)
		return
	}
	amt, err := s.backend.Directory.Bid(id, bidder)
	if err != nil {
		writeError(w, err)
		return
	}
	_, dec := s.unit(info.Asset)
	writeJSON(w, http.StatusOK, BidView{Bidder: bidder, Amount: amt, Display: display(amt, dec)})
}

func (s *Server) handleAuctionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if known, err := s.backend.Directory.IsKnown(id); err != nil || !known {
		if err == nil {
			err = directory.ErrUnknownAuction
		}
		writeError(w, err)
		return
	}
	if s.backend.Logs == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "event history disabled"})
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter.AuctionID = id
	evs, err := s.backend.Logs.FilterEvents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if evs == nil {
		evs = []*logdb.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// parseFilter reads ?type=&order=&offset=&limit= into an event filter.
func parseFilter(r *http.Request) (*logdb.EventFilter, error) {
	q := r.URL.Query()
	f := &logdb.EventFilter{Order: logdb.ASC}
	for _, t := range q["type"] {
		f.Types = append(f.Types, events.EventType(t))
	}
	switch q.Get("order") {
	case "", "asc":
	case "desc":
		f.Order = logdb.DESC
	default:
		return nil, errors.Join(errBadRequest, errors.New("order must be asc or desc"))
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.ParseUint(l, 10, 32)
		if err != nil {
			return nil, errors.Join(errBadRequest, err)
		}
		var offset uint64
		if o := q.Get("offset"); o != "" {
			if offset, err = strconv.ParseUint(o, 10, 64); err != nil {
				return nil, errors.Join(errBadRequest, err)
			}
		}
		f.Options = &logdb.Options{Offset: offset, Limit: limit}
	}
	return f, nil
}

func (s *Server) handleBySeller(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, s.backend.Indexer.AuctionsBySeller, chi.URLParam(r, "addr"))
}

func (s *Server) handleByBidder(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, s.backend.Indexer.AuctionsByBidder, chi.URLParam(r, "addr"))
}

func (s *Server) lookup(w http.ResponseWriter, by func(string) ([]string, error), addr string) {
	ids, err := by(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}
