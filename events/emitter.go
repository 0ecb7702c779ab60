package events

import (
	"log/slog"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit   EventType = "block_commit"
	EventBlockReverted EventType = "block_reverted" // execution undone; drop events buffered for the block
	EventTxExecuted    EventType = "tx_executed"
	EventTxFailed      EventType = "tx_failed"

	EventTransfer EventType = "transfer" // native balance transfer

	EventTokenCreated  EventType = "token_created"
	EventTokenTransfer EventType = "token_transfer"
	EventTokenApproval EventType = "token_approval"

	EventAuctionCreated   EventType = "auction_created"
	EventBidPlaced        EventType = "bid_placed"
	EventAuctionCanceled  EventType = "auction_canceled"
	EventAuctionFinalized EventType = "auction_finalized"
	EventBidWithdrawn     EventType = "bid_withdrawn"
)

// AuctionEvents lists the event types that concern a single auction.
var AuctionEvents = []EventType{
	EventAuctionCreated,
	EventBidPlaced,
	EventAuctionCanceled,
	EventAuctionFinalized,
	EventBidWithdrawn,
}

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every type in types.
func (e *Emitter) SubscribeAll(types []EventType, h Handler) {
	for _, t := range types {
		e.Subscribe(t, h)
	}
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// A panicking subscriber is logged and skipped.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "pkg", "events", "type", ev.Type, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
