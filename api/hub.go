package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tolelom/bidchain/events"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscriber is one websocket client. auction filters to a single auction
// when non-empty.
type subscriber struct {
	id      string
	auction string
	send    chan []byte
}

// Hub fans committed auction events out to websocket clients. Events are
// held until their block commits and dropped if it is reverted. A client
// that falls behind by more than its buffer is disconnected.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	pending []events.Event
	closed  bool
	log     *slog.Logger
}

// NewHub creates a Hub fed by emitter.
func NewHub(emitter *events.Emitter) *Hub {
	h := &Hub{subs: make(map[string]*subscriber), log: slog.Default().With("pkg", "api", "component", "hub")}
	emitter.SubscribeAll(events.AuctionEvents, func(ev events.Event) {
		h.mu.Lock()
		h.pending = append(h.pending, ev)
		h.mu.Unlock()
	})
	emitter.Subscribe(events.EventBlockCommit, h.flush)
	emitter.Subscribe(events.EventBlockReverted, func(events.Event) {
		h.mu.Lock()
		h.pending = nil
		h.mu.Unlock()
	})
	return h
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) flush(commit events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	batch := h.pending
	h.pending = nil
	for _, ev := range batch {
		if ev.BlockHeight != commit.BlockHeight {
			continue
		}
		msg, err := json.Marshal(ev)
		if err != nil {
			h.log.Error("marshal event", "type", ev.Type, "err", err)
			continue
		}
		auctionID, _ := ev.Data["auction_id"].(string)
		for id, sub := range h.subs {
			if sub.auction != "" && sub.auction != auctionID {
				continue
			}
			select {
			case sub.send <- msg:
			default:
				h.log.Warn("subscriber too slow, dropping", "subscriber", id)
				h.remove(id)
			}
		}
	}
}

func (h *Hub) add(auction string) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	sub := &subscriber{id: uuid.NewString(), auction: auction, send: make(chan []byte, subscriberBuffer)}
	h.subs[sub.id] = sub
	return sub
}

// remove closes a subscriber's queue. Callers hold h.mu.
func (h *Hub) remove(id string) {
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.send)
	}
}

func (h *Hub) drop(id string) {
	h.mu.Lock()
	h.remove(id)
	h.mu.Unlock()
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.subs {
		h.remove(id)
	}
}

// ServeWS upgrades the request and streams events until the client leaves.
// ?auction=<id> limits the stream to one auction.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade", "err", err)
		return
	}
	sub := h.add(r.URL.Query().Get("auction"))
	if sub == nil {
		_ = conn.Close()
		return
	}
	h.log.Debug("subscriber joined", "subscriber", sub.id, "auction", sub.auction)

	// Reader: only needed to notice the client going away.
	go func() {
		defer h.drop(sub.id)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		h.log.Debug("subscriber left", "subscriber", sub.id)
	}()
	for {
		select {
		case msg, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(sub.id)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(sub.id)
				return
			}
		}
	}
}
