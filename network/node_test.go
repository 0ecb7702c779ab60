package network_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/bidchain/core"
	"github.com/tolelom/bidchain/network"
)

func listen(t *testing.T, id string) *network.Node {
	t.Helper()
	n := network.NewNode(id, "127.0.0.1:0", core.NewMempool("bidchain-test"), nil)
	require.NoError(t, n.Start())
	t.Cleanup(n.Stop)
	return n
}

func TestHelloNamesPeerBeforeHooks(t *testing.T) {
	a := listen(t, "a")
	b := listen(t, "b")

	greeted := make(chan string, 1)
	a.OnHello(func(p *network.Peer) { greeted <- p.NodeID() })

	require.NoError(t, b.AddPeer("a", a.Addr()))

	select {
	case id := <-greeted:
		assert.Equal(t, "b", id)
	case <-time.After(5 * time.Second):
		t.Fatal("hello hook did not run")
	}
	assert.NotNil(t, a.Peer("b"))
}

func TestSelfDialDropped(t *testing.T) {
	a := listen(t, "a")

	hooked := make(chan struct{}, 1)
	a.OnHello(func(*network.Peer) { hooked <- struct{}{} })

	require.NoError(t, a.AddPeer("me", a.Addr()))
	assert.Eventually(t, func() bool { return a.PeerCount() == 0 }, 5*time.Second, 10*time.Millisecond)
	select {
	case <-hooked:
		t.Fatal("hook ran for a self connection")
	default:
	}
}
