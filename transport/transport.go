// Package transport wires the consensus and discovery layers to a real
// libp2p host, generalizing the teacher's NewNode/DialSeed
// (core/network.go) from a single pubsub-topic node to one that also
// dials individual validators for RTT pings and serves the discovery
// behavior's request/response RPCs over a dedicated protocol stream.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"synnergy-node/discovery"
	"synnergy-node/synnid"
)

// ViewChangeTopic is the gossipsub topic validators broadcast signed
// view-change votes and proofs over, the same gossip-broadcast pattern
// the teacher uses for general message replication (core/network.go's
// pubsub wiring).
const ViewChangeTopic = "synnergy/view-change/1.0.0"

var log = logrus.WithField("component", "transport")

// KadProtocol is the libp2p protocol ID the discovery RPCs travel on.
const KadProtocol = protocol.ID("/synnergy/kad/1.0.0")

// PingProtocol is the protocol ID consensus health checks travel on.
const PingProtocol = protocol.ID("/synnergy/ping/1.0.0")

// Resolver maps a transport PeerId back to the NodeId that owns it,
// the responsibility discovery.Behavior already owns via its PeerId
// cache.
type Resolver interface {
	NodeForPeer(peerID synnid.PeerId) (synnid.NodeId, bool)
}

// Node wraps a libp2p host and dispatches inbound kad/ping streams into
// the discovery behavior and consensus health monitor respectively.
type Node struct {
	host host.Host

	mu     sync.RWMutex
	peerOf map[synnid.NodeId]peer.ID
	addrOf map[synnid.NodeId][]string

	kad *discovery.Behavior

	pubsub     *pubsub.PubSub
	viewChange *pubsub.Topic
}

// Config mirrors the listen/bootstrap fields of the teacher's Config
// (core/common_structs.go), scoped to what transport.Node needs.
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// New creates a libp2p host, wires it to kad for routing RPCs, and
// starts mDNS discovery the same way core/network.go's NewNode does.
func New(cfg Config, kad *discovery.Behavior) (*Node, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		return nil, fmt.Errorf("transport: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(context.Background(), h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: create pubsub: %w", err)
	}
	topic, err := ps.Join(ViewChangeTopic)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: join view-change topic: %w", err)
	}

	n := &Node{
		host:       h,
		peerOf:     make(map[synnid.NodeId]peer.ID),
		addrOf:     make(map[synnid.NodeId][]string),
		kad:        kad,
		pubsub:     ps,
		viewChange: topic,
	}
	kad.SetMyPeerID(h.ID())

	h.SetStreamHandler(KadProtocol, n.handleKadStream)
	h.SetStreamHandler(PingProtocol, n.handlePingStream)

	for _, addr := range cfg.BootstrapPeers {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			log.WithError(err).WithField("addr", addr).Warn("invalid bootstrap address")
			continue
		}
		if err := h.Connect(context.Background(), *pi); err != nil {
			log.WithError(err).WithField("addr", addr).Warn("bootstrap dial failed")
			continue
		}
	}

	if cfg.DiscoveryTag != "" {
		svc := mdns.NewMdnsService(h, cfg.DiscoveryTag, mdnsNotifee{n})
		if err := svc.Start(); err != nil {
			log.WithError(err).Warn("mdns start failed")
		}
	}

	return n, nil
}

// Host exposes the underlying libp2p host for advanced callers (tests,
// metrics).
func (n *Node) Host() host.Host { return n.host }

// BroadcastViewChange gossips a JSON-encoded payload (a
// consensus.ViewChangeMessage or ViewChangeProof) to the view-change
// topic.
func (n *Node) BroadcastViewChange(ctx context.Context, payload []byte) error {
	return n.viewChange.Publish(ctx, payload)
}

// SubscribeViewChange returns a subscription delivering every
// view-change payload gossiped on the topic, including this node's own
// publications.
func (n *Node) SubscribeViewChange() (*pubsub.Subscription, error) {
	return n.viewChange.Subscribe()
}

// RegisterNode associates a NodeId with a transport peer.ID, so
// SendKad/Ping know where to dial.
func (n *Node) RegisterNode(id synnid.NodeId, p peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peerOf[id] = p
}

func (n *Node) peerFor(id synnid.NodeId) (peer.ID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peerOf[id]
	return p, ok
}

// SendKad dials node (if needed) over KadProtocol, writes msg, and
// returns the peer's reply, implementing the dial-and-send action
// discovery.Behavior.Poll asks the caller to perform.
func (n *Node) SendKad(ctx context.Context, node synnid.NodeId, msg discovery.Message) (*discovery.Message, error) {
	p, ok := n.peerFor(node)
	if !ok {
		return nil, fmt.Errorf("transport: no known peer id for node %s", node)
	}
	s, err := n.host.NewStream(ctx, p, KadProtocol)
	if err != nil {
		return nil, fmt.Errorf("transport: open kad stream: %w", err)
	}
	defer s.Close()

	if err := json.NewEncoder(s).Encode(msg); err != nil {
		return nil, fmt.Errorf("transport: encode kad message: %w", err)
	}
	var reply discovery.Message
	if err := json.NewDecoder(s).Decode(&reply); err != nil {
		return nil, fmt.Errorf("transport: decode kad reply: %w", err)
	}
	return &reply, nil
}

// Ping implements consensus.Pinger: dials node over PingProtocol and
// measures round-trip time of a single byte echo.
func (n *Node) Ping(ctx context.Context, node synnid.NodeId) (time.Duration, error) {
	p, ok := n.peerFor(node)
	if !ok {
		return 0, fmt.Errorf("transport: no known peer id for node %s", node)
	}
	start := time.Now()
	s, err := n.host.NewStream(ctx, p, PingProtocol)
	if err != nil {
		return 0, fmt.Errorf("transport: open ping stream: %w", err)
	}
	defer s.Close()
	if _, err := s.Write([]byte{1}); err != nil {
		return 0, fmt.Errorf("transport: write ping: %w", err)
	}
	buf := make([]byte, 1)
	if _, err := s.Read(buf); err != nil {
		return 0, fmt.Errorf("transport: read pong: %w", err)
	}
	return time.Since(start), nil
}

func (n *Node) handleKadStream(s network.Stream) {
	defer s.Close()
	var msg discovery.Message
	if err := json.NewDecoder(s).Decode(&msg); err != nil {
		log.WithError(err).Warn("malformed kad stream")
		return
	}
	remotePeer := s.Conn().RemotePeer()
	node, ok := n.kad.NodeForPeer(remotePeer)
	if !ok {
		log.WithField("peer", remotePeer.String()).Warn("kad stream from unresolved peer")
		return
	}
	reply := n.kad.HandleMessage(node, time.Now(), msg)
	if reply == nil {
		return
	}
	if err := json.NewEncoder(s).Encode(reply); err != nil {
		log.WithError(err).Warn("failed to write kad reply")
	}
}

func (n *Node) handlePingStream(s network.Stream) {
	defer s.Close()
	buf := make([]byte, 1)
	if _, err := s.Read(buf); err != nil {
		return
	}
	_, _ = s.Write(buf)
}

type mdnsNotifee struct{ n *Node }

// HandlePeerFound mirrors the teacher's Node.HandlePeerFound
// (core/network.go): connect to newly discovered local peers, leaving
// NodeId resolution to the kad protocol's first exchange.
func (m mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == m.n.host.ID() {
		return
	}
	if err := m.n.host.Connect(context.Background(), info); err != nil {
		log.WithError(err).WithField("peer", info.ID.String()).Warn("mdns connect failed")
	}
}
