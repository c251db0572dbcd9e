// Package discovery implements the Kademlia-style peer discovery
// behavior (spec section 4.5): a k-bucket routing table, an iterative
// query engine driving FIND_NODE/GET_PROVIDERS lookups, and provider
// registration/refresh, all stepped through an explicit Poll() rather
// than async tasks — the same single-threaded cooperative shape the
// teacher uses for its blockchain state machines (core/consensus.go),
// generalized here to the Rust reference's NetworkBehaviour::poll()
// (original_source/network/src/kad/behaviour.rs).
package discovery

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"synnergy-node/discovery/kbucket"
	"synnergy-node/discovery/query"
	"synnergy-node/synnid"
)

var log = logrus.WithField("component", "discovery")

// QueryID identifies one in-flight iterative lookup.
type QueryID uint64

// Purpose distinguishes why a query was started, so Poll() knows which
// KademliaOut event to emit on completion (behaviour.rs QueryPurpose).
type Purpose int

const (
	PurposeInitialization Purpose = iota
	PurposeFindNode
	PurposeGetProviders
	PurposeAddProvider
)

type activeQuery struct {
	id      QueryID
	state   *query.State
	purpose Purpose
	key     synnid.Hash // meaningful for PurposeGetProviders and PurposeAddProvider
}

// cacheCapacity is the bound on the PeerId->NodeId reverse-lookup LRU
// (spec section 3): 512 buckets times (K+1) possible entries each.
const cacheCapacity = kbucket.NumBuckets * (kbucket.K + 1)

// RefreshInterval is how often provider keys this node owns are
// re-announced, pinned to the same 60s constant the Rust reference
// uses (spec section 6, behaviour.rs refresh_add_providers).
const RefreshInterval = 60 * time.Second

// pendingSend is a queued outbound message awaiting its turn to be
// reported through Poll's one-action-per-call contract.
type pendingSend struct {
	node synnid.NodeId
	msg  Message
}

// Behavior owns all discovery-layer state for one local node.
type Behavior struct {
	myID     synnid.NodeId
	myPeerID *synnid.PeerId
	table    *kbucket.Table

	knownPeers *lru.Cache[synnid.PeerId, synnid.NodeId]

	activeQueries map[QueryID]*activeQuery
	nextQueryID   QueryID

	// pendingRPCs maps a node currently awaiting a reply to the query
	// that dispatched it, so an inbound Res or a disconnect can be
	// routed back to the right query.
	pendingRPCs map[synnid.NodeId]QueryID

	// pendingSends holds AddProvider announcements queued by a finished
	// PurposeAddProvider query, drained one per Poll call.
	pendingSends []pendingSend

	providers *providerStore

	lastRefresh time.Time

	randByte func() byte
}

// New builds a Behavior rooted at myID.
func New(myID synnid.NodeId, randByte func() byte) *Behavior {
	cache, err := lru.New[synnid.PeerId, synnid.NodeId](cacheCapacity)
	if err != nil {
		// Only possible if cacheCapacity <= 0, which the constants above
		// never produce.
		panic(err)
	}
	return &Behavior{
		myID:          myID,
		table:         kbucket.New(myID),
		knownPeers:    cache,
		activeQueries: make(map[QueryID]*activeQuery),
		pendingRPCs:   make(map[synnid.NodeId]QueryID),
		providers:     newProviderStore(),
		randByte:      randByte,
	}
}

// Table exposes the routing table for metrics and CLI inspection.
func (b *Behavior) Table() *kbucket.Table { return b.table }

// SetPeerID records node's current transport identity.
func (b *Behavior) SetPeerID(node synnid.NodeId, peerID synnid.PeerId) {
	if info := b.table.EntryMut(node); info != nil {
		info.PeerID = &peerID
	}
	b.knownPeers.Add(peerID, node)
}

// SetMyPeerID records this node's own transport identity, reported in
// the self-descriptor KadPeer built for outbound FindNodeRes,
// GetProvidersRes, and AddProvider messages (spec section 4.5,
// behaviour.rs build_kad_peer).
func (b *Behavior) SetMyPeerID(peerID synnid.PeerId) {
	b.myPeerID = &peerID
}

// NodeForPeer resolves a transport PeerId back to the NodeId that
// currently owns it, via the bounded reverse-lookup cache.
func (b *Behavior) NodeForPeer(peerID synnid.PeerId) (synnid.NodeId, bool) {
	return b.knownPeers.Get(peerID)
}

// AddConnectedAddress records addr for node as connected, admitting a
// fresh bucket entry via Table.SetConnected.
func (b *Behavior) AddConnectedAddress(node synnid.NodeId, addr multiaddr.Multiaddr) kbucket.Update {
	update := b.table.SetConnected(node)
	if info := b.table.EntryMut(node); info != nil {
		info.Addresses.InsertConnected(addr)
	}
	return update
}

// AddNotConnectedAddress records addr for node tagged not connected,
// used for addresses learned second-hand (e.g. from a FindNodeRes)
// rather than an active connection. The entry itself goes through
// Table.SetConnected, so an existing entry is still moved to its
// bucket's MRU slot; only the address tag differs from
// AddConnectedAddress.
func (b *Behavior) AddNotConnectedAddress(node synnid.NodeId, addr multiaddr.Multiaddr) {
	b.table.SetConnected(node)
	if info := b.table.EntryMut(node); info != nil {
		info.Addresses.InsertNotConnected(addr)
	}
}

// Disconnected marks node's addresses disconnected and fails any query
// currently waiting on it, mirroring inject_disconnected.
func (b *Behavior) Disconnected(node synnid.NodeId) {
	b.table.SetDisconnected(node)
	if qid, ok := b.pendingRPCs[node]; ok {
		if aq, ok := b.activeQueries[qid]; ok {
			aq.state.InjectRpcError(node)
		}
		delete(b.pendingRPCs, node)
	}
}

// DialFailed marks the dial attempt to node as failed, used for both
// routing-table liveness pings and query RPC dispatch dials.
func (b *Behavior) DialFailed(node synnid.NodeId) {
	b.table.EvictPending(node)
	if qid, ok := b.pendingRPCs[node]; ok {
		if aq, ok := b.activeQueries[qid]; ok {
			aq.state.InjectRpcError(node)
		}
		delete(b.pendingRPCs, node)
	}
}

// ConfirmAlive reports that node (a bucket's LRU entry pinged to
// validate a pending candidate) answered.
func (b *Behavior) ConfirmAlive(node synnid.NodeId) {
	b.table.ConfirmAlive(node)
}

// FindNode starts an iterative lookup for the k closest nodes to
// target.
func (b *Behavior) FindNode(target synnid.NodeId) QueryID {
	return b.startQuery(query.Target{Kind: query.FindPeer, Hash: synnid.HashNodeId(target)}, PurposeFindNode, synnid.Hash{})
}

// GetProviders starts an iterative lookup for the providers of key.
func (b *Behavior) GetProviders(key synnid.Hash) QueryID {
	return b.startQuery(query.Target{Kind: query.GetProviders, Hash: key}, PurposeGetProviders, key)
}

func (b *Behavior) startQuery(target query.Target, purpose Purpose, key synnid.Hash) QueryID {
	closest := b.table.FindClosest(target.Hash)
	id := b.nextQueryID
	b.nextQueryID++
	b.activeQueries[id] = &activeQuery{
		id:      id,
		state:   query.New(query.Config{Target: target, KnownClosestPeers: closest}),
		purpose: purpose,
		key:     key,
	}
	return id
}

// AddProviding marks key as one this node provides, ensures self is
// recorded as one of its providers, and starts a FindPeer lookup
// towards key; once it converges, finish queues an AddProvider
// announcement to every closest peer with a known transport identity
// (spec section 4.5 step 3, behaviour.rs start_providing).
func (b *Behavior) AddProviding(key synnid.Hash) QueryID {
	now := time.Now()
	b.providers.addProviding(key, b.myID, now)
	return b.startQuery(query.Target{Kind: query.FindPeer, Hash: key}, PurposeAddProvider, key)
}

// RemoveProviding stops re-announcing key.
func (b *Behavior) RemoveProviding(key synnid.Hash) {
	b.providers.removeProviding(key)
}

// ActionKind tags the step Poll() asks the caller to perform.
type ActionKind int

const (
	ActionNotReady ActionKind = iota
	ActionDialAndSend
	ActionDiscovered
	ActionFindNodeResult
	ActionGetProvidersResult
	ActionQueryError
)

// Action is what Poll() returns for the caller's transport layer and
// event subscribers to act on (spec section 9, behaviour.rs poll()).
type Action struct {
	Kind ActionKind

	// ActionDialAndSend
	Node    synnid.NodeId
	Message Message

	// ActionDiscovered
	Peer KadPeer

	// ActionFindNodeResult / ActionGetProvidersResult / ActionQueryError
	QueryID   QueryID
	Closest   []synnid.NodeId
	Providers []synnid.NodeId
}

// Poll drives the behavior forward by one step: advancing active
// queries, flushing the provider-refresh sweep, and reporting
// completed lookups. ActionNotReady is also returned by the call that
// finishes an initialization or provider-announcement query, even when
// other queries or queued AddProvider sends remain for later calls.
func (b *Behavior) Poll(now time.Time) Action {
	if len(b.pendingSends) > 0 {
		ps := b.pendingSends[0]
		b.pendingSends = b.pendingSends[1:]
		return Action{Kind: ActionDialAndSend, Node: ps.node, Message: ps.msg}
	}

	b.maybeRefreshProviding(now)
	b.providers.expire(now)

	for id, aq := range b.activeQueries {
		res := aq.state.Poll()
		switch res.Kind {
		case query.SendRpc:
			b.pendingRPCs[res.NodeID] = id
			return Action{Kind: ActionDialAndSend, Node: res.NodeID, Message: b.buildRequest(aq)}
		case query.Finished:
			delete(b.activeQueries, id)
			return b.finish(aq, now)
		case query.CancelRpc:
			delete(b.pendingRPCs, res.NodeID)
		case query.NotReady:
			// try the next query
		}
	}
	return Action{Kind: ActionNotReady}
}

func (b *Behavior) buildRequest(aq *activeQuery) Message {
	switch aq.purpose {
	case PurposeGetProviders:
		return Message{Kind: GetProvidersReq, Key: aq.state.Target().Hash}
	default:
		return Message{Kind: FindNodeReq, Key: aq.state.Target().Hash}
	}
}

func (b *Behavior) finish(aq *activeQuery, now time.Time) Action {
	closest := aq.state.ClosestPeers()
	switch aq.purpose {
	case PurposeGetProviders:
		return Action{
			Kind:      ActionGetProvidersResult,
			QueryID:   aq.id,
			Closest:   closest,
			Providers: b.providers.providers(aq.key, now),
		}
	case PurposeAddProvider:
		b.queueAddProviderAnnouncements(aq.key, closest)
		return Action{Kind: ActionNotReady}
	case PurposeInitialization:
		return Action{Kind: ActionNotReady}
	default:
		return Action{Kind: ActionFindNodeResult, QueryID: aq.id, Closest: closest}
	}
}

// queueAddProviderAnnouncements tells every closest peer with a known
// transport identity that this node provides key, mirroring
// behaviour.rs's post-lookup AddProvider broadcast (behaviour.rs lines
// ~841-863).
func (b *Behavior) queueAddProviderAnnouncements(key synnid.Hash, closest []synnid.NodeId) {
	self := b.selfKadPeer()
	for _, id := range closest {
		if id == b.myID {
			continue
		}
		info, ok := b.table.Get(id)
		if !ok || info.PeerID == nil {
			continue
		}
		b.pendingSends = append(b.pendingSends, pendingSend{
			node: id,
			msg:  Message{Kind: AddProvider, ProviderKey: key, ProviderPeer: self},
		})
	}
}

// selfKadPeer builds the KadPeer descriptor this node reports about
// itself in outbound messages (spec section 4.5, behaviour.rs
// build_kad_peer).
func (b *Behavior) selfKadPeer() KadPeer {
	return KadPeer{NodeID: b.myID, PeerID: b.myPeerID}
}

func (b *Behavior) maybeRefreshProviding(now time.Time) {
	if !b.lastRefresh.IsZero() && now.Sub(b.lastRefresh) < RefreshInterval {
		return
	}
	b.lastRefresh = now
	for _, key := range b.providers.providingKeyList() {
		b.providers.addProvider(key, b.myID, now)
		b.startQuery(query.Target{Kind: query.FindPeer, Hash: key}, PurposeAddProvider, key)
	}
}

// HandleMessage processes an inbound wire message from a peer already
// resolved to node, returning the reply to send back (nil for verbs
// that expect none) and routing Res payloads into the matching active
// query.
func (b *Behavior) HandleMessage(from synnid.NodeId, now time.Time, msg Message) *Message {
	switch msg.Kind {
	case FindNodeReq:
		closer := b.kadPeers(b.table.FindClosestWithSelf(msg.Key))
		return &Message{Kind: FindNodeRes, CloserPeers: closer}

	case GetProvidersReq:
		closer := b.kadPeers(b.table.FindClosestWithSelf(msg.Key))
		provs := b.kadPeers(b.providers.providers(msg.Key, now))
		return &Message{Kind: GetProvidersRes, CloserPeers: closer, ProviderPeers: provs}

	case FindNodeRes:
		b.completeRPC(from, msg.CloserPeers)
		return nil

	case GetProvidersRes:
		b.completeRPC(from, msg.CloserPeers)
		for _, p := range msg.ProviderPeers {
			b.providers.addProvider(msg.Key, p.NodeID, now)
			if p.PeerID != nil {
				b.SetPeerID(p.NodeID, *p.PeerID)
			}
		}
		return nil

	case AddProvider:
		b.providers.addProvider(msg.ProviderKey, msg.ProviderPeer.NodeID, now)
		if msg.ProviderPeer.PeerID != nil {
			b.SetPeerID(msg.ProviderPeer.NodeID, *msg.ProviderPeer.PeerID)
		}
		return nil
	}
	return nil
}

func (b *Behavior) completeRPC(from synnid.NodeId, closer []KadPeer) {
	qid, ok := b.pendingRPCs[from]
	if !ok {
		return
	}
	delete(b.pendingRPCs, from)
	aq, ok := b.activeQueries[qid]
	if !ok {
		return
	}
	ids := make([]synnid.NodeId, 0, len(closer))
	for _, p := range closer {
		if p.NodeID == b.myID {
			continue
		}
		ids = append(ids, p.NodeID)
		b.AddNotConnectedAddress(p.NodeID, firstAddr(p.Addresses))
		if p.PeerID != nil {
			b.SetPeerID(p.NodeID, *p.PeerID)
		}
	}
	aq.state.InjectRpcResult(from, ids)
}

func firstAddr(addrs []multiaddr.Multiaddr) multiaddr.Multiaddr {
	if len(addrs) == 0 {
		return nil
	}
	return addrs[0]
}

func (b *Behavior) kadPeers(ids []synnid.NodeId) []KadPeer {
	out := make([]KadPeer, 0, len(ids))
	for _, id := range ids {
		if id == b.myID {
			out = append(out, b.selfKadPeer())
			continue
		}
		var addrs []multiaddr.Multiaddr
		connected := false
		var peerID *synnid.PeerId
		if info, ok := b.table.Get(id); ok {
			addrs = info.Addresses.Iter()
			connected = info.Addresses.IsConnected()
			peerID = info.PeerID
		}
		out = append(out, KadPeer{NodeID: id, PeerID: peerID, Addresses: addrs, Connected: connected})
	}
	return out
}

// Bootstrap seeds myID's buckets with an initialization sweep: one
// FindNode query for every bucket index (NumBuckets queries), targeting a random hash
// within that bucket, exactly as the Rust reference's new_inner does
// (behaviour.rs lines ~190-210).
func (b *Behavior) Bootstrap() {
	myHash := synnid.HashNodeId(b.myID)
	for i := 0; i < kbucket.NumBuckets; i++ {
		target := kbucket.RandomHashInBucket(myHash, i, b.randByte)
		closest := b.table.FindClosest(target)
		id := b.nextQueryID
		b.nextQueryID++
		b.activeQueries[id] = &activeQuery{
			id:      id,
			state:   query.New(query.Config{Target: query.Target{Kind: query.FindPeer, Hash: target}, KnownClosestPeers: closest}),
			purpose: PurposeInitialization,
		}
	}
}

// ActiveQueryCount reports the number of in-flight queries, exposed
// for metrics.
func (b *Behavior) ActiveQueryCount() int { return len(b.activeQueries) }
