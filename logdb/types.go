package logdb

import (
	"encoding/json"

	"github.com/tolelom/bidchain/events"
)

// Event is a chain event as stored in the log db.
type Event struct {
	BlockNumber int64            `json:"block_number"`
	BlockHash   string           `json:"block_hash"`
	Index       int              `json:"index"` // position within the block
	TxID        string           `json:"tx_id"`
	Type        events.EventType `json:"type"`
	AuctionID   string           `json:"auction_id,omitempty"`
	Actor       string           `json:"actor,omitempty"` // bidder, seller or sender
	Data        json.RawMessage  `json:"data"`
}

type Order string

const (
	ASC  Order = "asc"
	DESC Order = "desc"
)

// Options pages a query.
type Options struct {
	Offset uint64
	Limit  uint64
}

// EventFilter selects events. Zero fields match everything.
type EventFilter struct {
	AuctionID string
	Actor     string
	Types     []events.EventType
	FromBlock int64
	ToBlock   int64 // 0 means no upper bound
	Order     Order
	Options   *Options
}

// actorKeys lists, in priority order, the data fields naming who caused an
// event.
var actorKeys = []string{"bidder", "seller", "from", "owner", "issuer"}

func actorOf(data map[string]any) string {
	for _, k := range actorKeys {
		if s, ok := data[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
