package rpc

import "github.com/prometheus/client_golang/prometheus"

var requestsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "rpc_requests_total",
	Help: "JSON-RPC requests by method and outcome",
}, []string{"method", "outcome"})

func init() {
	prometheus.MustRegister(requestsCounter)
}

var knownMethods = map[string]bool{
	"getBlockHeight": true, "getChainInfo": true, "getBlock": true, "getBalance": true, "getMempoolSize": true,
	"sendTx": true, "getReceipt": true, "getToken": true, "getTokenBalance": true,
	"getAllowance": true, "listAuctions": true, "listActiveAuctions": true,
	"isKnownAuction": true, "getAuction": true, "getBid": true, "getBids": true,
	"getAuctionHistory": true, "getAuctionsBySeller": true, "getAuctionsByBidder": true,
}

// methodLabel keeps client-chosen method names out of the label space.
func methodLabel(m string) string {
	if knownMethods[m] {
		return m
	}
	return "unknown"
}
