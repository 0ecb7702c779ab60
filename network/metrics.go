package network

import "github.com/prometheus/client_golang/prometheus"

var (
	peersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "p2p_peers",
		Help: "Connected peers",
	})
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_messages_received_total",
		Help: "P2P messages received by type",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(peersGauge, messagesCounter)
}

func typeLabel(t MsgType) string {
	switch t {
	case MsgHello, MsgTx, MsgBlock, MsgGetBlocks, MsgBlocks:
		return string(t)
	}
	return "unknown"
}
