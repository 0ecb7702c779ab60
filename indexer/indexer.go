// Package indexer maintains secondary indexes over committed blocks so
// clients can query auctions by seller or bidder without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/storage"
)

const (
	prefixSellerAuctions = "idx:seller:auction:"
	prefixBidderAuctions = "idx:bidder:auction:"

	listCacheSize = 1024
)

type entry struct{ key, value string }

// Indexer subscribes to chain events and updates secondary lookup tables.
// Entries are staged while a block executes and written when it commits.
type Indexer struct {
	db     storage.DB
	mu     sync.Mutex // serialises read-modify-write of lists
	cache  *lru.Cache // key → []string
	staged []entry
	logger *slog.Logger
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	cache, _ := lru.New(listCacheSize) // only fails for a non-positive size
	idx := &Indexer{db: db, cache: cache, logger: slog.Default().With("pkg", "indexer")}
	emitter.Subscribe(events.EventAuctionCreated, idx.onAuctionCreated)
	emitter.Subscribe(events.EventBidPlaced, idx.onBidPlaced)
	emitter.Subscribe(events.EventBlockCommit, idx.onBlockCommit)
	emitter.Subscribe(events.EventBlockReverted, idx.onBlockReverted)
	return idx
}

// AuctionsBySeller returns the IDs of auctions created by seller, oldest first.
func (idx *Indexer) AuctionsBySeller(seller string) ([]string, error) {
	return idx.getList(prefixSellerAuctions + seller)
}

// AuctionsByBidder returns the IDs of auctions bidder has bid in, in order
// of their first bid.
func (idx *Indexer) AuctionsByBidder(bidder string) ([]string, error) {
	return idx.getList(prefixBidderAuctions + bidder)
}

// ---- event handlers ----

func (idx *Indexer) onAuctionCreated(ev events.Event) {
	seller, _ := ev.Data["seller"].(string)
	auctionID, _ := ev.Data["auction_id"].(string)
	if seller == "" || auctionID == "" {
		return
	}
	idx.stage(prefixSellerAuctions+seller, auctionID)
}

func (idx *Indexer) onBidPlaced(ev events.Event) {
	bidder, _ := ev.Data["bidder"].(string)
	auctionID, _ := ev.Data["auction_id"].(string)
	if bidder == "" || auctionID == "" {
		return
	}
	idx.stage(prefixBidderAuctions+bidder, auctionID)
}

func (idx *Indexer) stage(key, value string) {
	idx.mu.Lock()
	idx.staged = append(idx.staged, entry{key, value})
	idx.mu.Unlock()
}

func (idx *Indexer) onBlockCommit(ev events.Event) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range idx.staged {
		if err := idx.addToList(e.key, e.value); err != nil {
			idx.logger.Warn("index entry", "height", ev.BlockHeight, "key", e.key, "err", err)
		}
	}
	idx.staged = nil
}

func (idx *Indexer) onBlockReverted(events.Event) {
	idx.mu.Lock()
	idx.staged = nil
	idx.mu.Unlock()
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	if v, ok := idx.cache.Get(key); ok {
		return append([]string(nil), v.([]string)...), nil
	}
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	idx.cache.Add(key, ids)
	return append([]string(nil), ids...), nil
}

// addToList appends value to the list at key unless it is already present.
// Callers hold idx.mu.
func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := idx.db.Set([]byte(key), data); err != nil {
		idx.cache.Remove(key)
		return err
	}
	idx.cache.Add(key, ids)
	return nil
}
