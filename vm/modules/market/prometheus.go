package market

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/events"
	"github.com/tolelom/bidchain/vm"
)

var (
	auctionsCreatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auctions_created_total",
		Help: "Auctions created in committed blocks",
	})
	bidsAcceptedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_bids_accepted_total",
		Help: "Bids accepted in committed blocks across all auctions",
	})
	rejectionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_rejections_total",
		Help: "Failed auction transactions in committed blocks by operation and reason",
	}, []string{"op", "code"})
	settlementsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_settlements_total",
		Help: "Canceled and ended auctions",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(auctionsCreatedCounter)
	prometheus.MustRegister(bidsAcceptedCounter)
	prometheus.MustRegister(rejectionsCounter)
	prometheus.MustRegister(settlementsCounter)
}

var auctionTxTypes = map[string]bool{
	string(core.TxCreateAuction):   true,
	string(core.TxPlaceBid):        true,
	string(core.TxCancelAuction):   true,
	string(core.TxFinalizeAuction): true,
	string(core.TxEndAuctionEarly): true,
	string(core.TxWithdrawBid):     true,
}

// blockMetrics holds auction events until their block commits, so the
// counters see every committed block once no matter how often it executes.
type blockMetrics struct {
	mu      sync.Mutex
	pending []events.Event
}

// AttachMetrics feeds the auction counters from emitter. Events of a
// reverted block are dropped.
func AttachMetrics(emitter *events.Emitter) {
	m := &blockMetrics{}
	emitter.SubscribeAll(append([]events.EventType{events.EventTxFailed}, events.AuctionEvents...), m.stage)
	emitter.Subscribe(events.EventBlockCommit, m.commit)
	emitter.Subscribe(events.EventBlockReverted, func(events.Event) {
		m.mu.Lock()
		m.pending = nil
		m.mu.Unlock()
	})
}

func (m *blockMetrics) stage(ev events.Event) {
	if ev.Type == events.EventTxFailed {
		if typ, _ := ev.Data["type"].(string); !auctionTxTypes[typ] {
			return
		}
	}
	m.mu.Lock()
	m.pending = append(m.pending, ev)
	m.mu.Unlock()
}

func (m *blockMetrics) commit(block events.Event) {
	m.mu.Lock()
	staged := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, ev := range staged {
		if ev.BlockHeight != block.BlockHeight {
			continue
		}
		switch ev.Type {
		case events.EventAuctionCreated:
			auctionsCreatedCounter.Inc()
		case events.EventBidPlaced:
			bidsAcceptedCounter.Inc()
		case events.EventAuctionCanceled:
			settlementsCounter.WithLabelValues("canceled").Inc()
		case events.EventAuctionFinalized:
			settlementsCounter.WithLabelValues("ended").Inc()
		case events.EventTxFailed:
			op, _ := ev.Data["type"].(string)
			code, _ := ev.Data["code"].(string)
			if code == "" {
				code = vm.CodeFailed
			}
			rejectionsCounter.WithLabelValues(op, code).Inc()
		}
	}
}
