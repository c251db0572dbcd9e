package discovery

import (
	"github.com/multiformats/go-multiaddr"

	"synnergy-node/synnid"
)

// KadPeer is the wire representation of a single routing-table entry,
// exchanged in FindNodeRes/GetProvidersRes payloads (spec section 4.5,
// grounded on original_source/network/src/kad/behaviour.rs
// build_kad_peer).
type KadPeer struct {
	NodeID    synnid.NodeId
	PeerID    *synnid.PeerId
	Addresses []multiaddr.Multiaddr
	Connected bool
}

// MessageKind tags the RPC verbs the wire protocol carries.
type MessageKind int

const (
	FindNodeReq MessageKind = iota
	FindNodeRes
	GetProvidersReq
	GetProvidersRes
	AddProvider
)

// Message is the single envelope type exchanged between peers. Only
// the fields relevant to Kind are populated; this mirrors the flat
// protobuf-style message the Rust reference sends over its
// substream (behaviour.rs KadMsg) rather than introducing per-verb Go
// interfaces, which would complicate the wire codec for no benefit.
type Message struct {
	Kind MessageKind

	// FindNodeReq / GetProvidersReq
	Key synnid.Hash

	// FindNodeRes / GetProvidersRes
	CloserPeers []KadPeer

	// GetProvidersRes only
	ProviderPeers []KadPeer

	// AddProvider
	ProviderKey  synnid.Hash
	ProviderPeer KadPeer
}
