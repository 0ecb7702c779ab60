package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tolelom/bidchain/core"
)

var (
	blocksCommittedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blocks_committed_total",
		Help: "Blocks produced and committed by this validator",
	})
	txsIncludedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txs_included_total",
		Help: "Transactions included in produced blocks by receipt status",
	}, []string{"status"})
	txsDroppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "txs_dropped_total",
		Help: "Mempool transactions dropped because they could not be charged",
	})
)

func init() {
	prometheus.MustRegister(blocksCommittedCounter)
	prometheus.MustRegister(txsIncludedCounter)
	prometheus.MustRegister(txsDroppedCounter)
	// Pre-create both series so they scrape as zero.
	txsIncludedCounter.WithLabelValues(core.ReceiptOK)
	txsIncludedCounter.WithLabelValues(core.ReceiptFailed)
}
