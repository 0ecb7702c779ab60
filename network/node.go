package network

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/vm"
)

// MessageHandler is called for each received message.
type MessageHandler func(peer *Peer, msg Message)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// hello is the first message a dialing node sends.
type hello struct {
	NodeID string `json:"node_id"`
}

// Node accepts and dials peers, relays transactions into the mempool and on
// to other peers, and dispatches every other message type to the handlers
// registered with Handle.
type Node struct {
	nodeID     string
	listenAddr string
	mempool    *core.Mempool
	tlsConfig  *tls.Config // nil → plain TCP
	maxPeers   int

	mu       sync.RWMutex
	peers    map[string]*Peer // keyed by Peer.ID
	handlers map[MsgType]MessageHandler
	onHello  []func(*Peer)

	listener net.Listener
	stopOnce sync.Once
	stopCh   chan struct{}
	logger   *slog.Logger
}

// NewNode creates a Node that will listen on listenAddr.
// If tlsCfg is non-nil the listener and outgoing connections use TLS.
func NewNode(nodeID, listenAddr string, mempool *core.Mempool, tlsCfg *tls.Config) *Node {
	n := &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		mempool:    mempool,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		stopCh:     make(chan struct{}),
		logger:     slog.Default().With("pkg", "network", "node", nodeID),
	}
	n.Handle(MsgHello, n.handleHello)
	n.Handle(MsgTx, n.handleTx)
	return n
}

// Handle registers a handler for msg type.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// OnHello registers fn to run after a peer has introduced itself.
// MsgHello itself stays with the node: it names the peer first.
func (n *Node) OnHello(fn func(*Peer)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onHello = append(n.onHello, fn)
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var (
		ln  net.Listener
		err error
	)
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Addr returns the bound listen address once started, else the configured one.
func (n *Node) Addr() string {
	if n.listener != nil {
		return n.listener.Addr().String()
	}
	return n.listenAddr
}

// Stop closes the listener and every peer. It is safe to call twice.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		if n.listener != nil {
			n.listener.Close()
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		for _, p := range n.peers {
			p.Close()
		}
	})
}

// AddPeer dials addr, registers the peer under id and introduces this node.
func (n *Node) AddPeer(id, addr string) error {
	if n.Peer(id) != nil {
		return fmt.Errorf("peer %s already connected", id)
	}
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return err
	}
	peer.setNodeID(id)
	n.register(peer)

	payload, err := json.Marshal(hello{NodeID: n.nodeID})
	if err != nil {
		return err
	}
	if err := peer.Send(Message{Type: MsgHello, Payload: payload}); err != nil {
		n.logger.Warn("send hello", "peer", id, "err", err)
	}
	return nil
}

// Peer returns the peer registered under id or introduced as node id, or nil.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if p, ok := n.peers[id]; ok {
		return p
	}
	for _, p := range n.peers {
		if p.NodeID() == id {
			return p
		}
	}
	return nil
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Broadcast sends msg to every connected peer.
func (n *Node) Broadcast(msg Message) { n.broadcastExcept(nil, msg) }

func (n *Node) broadcastExcept(skip *Peer, msg Message) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		if p != skip {
			peers = append(peers, p)
		}
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			n.logger.Debug("broadcast", "peer", p.ID, "type", msg.Type, "err", err)
		}
	}
}

// BroadcastTx gossips tx to all peers.
func (n *Node) BroadcastTx(tx *core.Transaction) {
	data, err := json.Marshal(tx)
	if err != nil {
		n.logger.Error("marshal tx", "err", err)
		return
	}
	n.Broadcast(Message{Type: MsgTx, Payload: data})
}

// BroadcastBlock gossips a freshly committed block to all peers.
func (n *Node) BroadcastBlock(block *core.Block) {
	data, err := json.Marshal(block)
	if err != nil {
		n.logger.Error("marshal block", "err", err)
		return
	}
	n.Broadcast(Message{Type: MsgBlock, Payload: data})
}

func (n *Node) register(peer *Peer) {
	n.mu.Lock()
	n.peers[peer.ID] = peer
	n.mu.Unlock()
	peersGauge.Inc()
	go n.readLoop(peer)
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.logger.Warn("accept", "err", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		if n.PeerCount() >= n.maxPeers {
			n.logger.Warn("max peers reached, rejecting", "max", n.maxPeers, "remote", conn.RemoteAddr().String())
			conn.Close()
			continue
		}
		remote := conn.RemoteAddr().String()
		n.register(NewPeer(remote, remote, conn))
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("read loop panic", "peer", peer.ID, "panic", r)
		}
		peer.Close()
		n.mu.Lock()
		if n.peers[peer.ID] == peer {
			delete(n.peers, peer.ID)
			peersGauge.Dec()
		}
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				n.logger.Debug("peer disconnected", "peer", peer.ID, "err", err)
			}
			return
		}
		messagesCounter.WithLabelValues(typeLabel(msg.Type)).Inc()
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}

// handleHello records the node ID an inbound peer introduces itself with.
// A node that dialed itself is dropped.
func (n *Node) handleHello(peer *Peer, msg Message) {
	var h hello
	if err := json.Unmarshal(msg.Payload, &h); err != nil || h.NodeID == "" {
		n.logger.Debug("bad hello", "peer", peer.ID, "err", err)
		return
	}
	if h.NodeID == n.nodeID {
		n.logger.Warn("connected to self, dropping", "addr", peer.Addr)
		peer.Close()
		return
	}
	peer.setNodeID(h.NodeID)
	n.logger.Info("peer connected", "peer", peer.ID, "node_id", h.NodeID)

	n.mu.RLock()
	hooks := n.onHello
	n.mu.RUnlock()
	for _, fn := range hooks {
		fn(peer)
	}
}

// handleTx admits a gossiped transaction and relays it if it was new.
func (n *Node) handleTx(from *Peer, msg Message) {
	var tx core.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		n.logger.Debug("unmarshal tx", "err", err)
		return
	}
	if !vm.Supported(tx.Type) {
		n.logger.Debug("unsupported tx type", "peer", from.ID, "type", tx.Type)
		return
	}
	tx.ID = tx.Hash()
	if err := n.mempool.Add(&tx); err != nil {
		if !errors.Is(err, core.ErrDuplicateTx) {
			n.logger.Debug("mempool add", "tx", tx.ID, "err", err)
		}
		return
	}
	n.broadcastExcept(from, msg)
}
