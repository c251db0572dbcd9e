package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"synnergy-node/discovery"
	"synnergy-node/synnid"
)

func hostAddrInfo(n *Node) *peer.AddrInfo {
	info := peer.AddrInfo{ID: n.Host().ID(), Addrs: n.Host().Addrs()}
	return &info
}

func newTestPair(t *testing.T) (*Node, *Node) {
	t.Helper()
	a, err := New(Config{ListenAddr: "/ip4/127.0.0.1/tcp/0"}, discovery.New(idAt(1), testRandByte))
	if err != nil {
		t.Fatalf("New (a): %v", err)
	}
	t.Cleanup(func() { a.Host().Close() })

	b, err := New(Config{ListenAddr: "/ip4/127.0.0.1/tcp/0"}, discovery.New(idAt(2), testRandByte))
	if err != nil {
		t.Fatalf("New (b): %v", err)
	}
	t.Cleanup(func() { b.Host().Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Host().Connect(ctx, *hostAddrInfo(b)); err != nil {
		t.Fatalf("connect a->b: %v", err)
	}
	return a, b
}

func idAt(b byte) synnid.NodeId {
	var id synnid.NodeId
	id[0] = b
	return id
}

func testRandByte() byte { return 7 }

func TestPingRoundTrip(t *testing.T) {
	a, b := newTestPair(t)
	nodeB := idAt(2)
	a.RegisterNode(nodeB, b.Host().ID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rtt, err := a.Ping(ctx, nodeB)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if rtt < 0 {
		t.Fatalf("expected a non-negative round trip time, got %v", rtt)
	}
}

func TestPingUnknownNodeErrors(t *testing.T) {
	a, _ := newTestPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := a.Ping(ctx, idAt(99)); err == nil {
		t.Fatalf("expected an error pinging a node with no registered peer id")
	}
}

func TestBroadcastViewChangeDeliversToSubscribers(t *testing.T) {
	a, b := newTestPair(t)

	sub, err := b.SubscribeViewChange()
	if err != nil {
		t.Fatalf("SubscribeViewChange: %v", err)
	}

	// Give gossipsub's mesh a moment to form over the freshly dialed link.
	time.Sleep(300 * time.Millisecond)

	payload, err := json.Marshal(map[string]int{"height": 42})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.BroadcastViewChange(ctx, payload); err != nil {
		t.Fatalf("BroadcastViewChange: %v", err)
	}

	msg, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	var decoded map[string]int
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["height"] != 42 {
		t.Fatalf("expected height 42, got %v", decoded)
	}
}
