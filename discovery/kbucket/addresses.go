// Package kbucket implements the k-bucket routing table keyed by
// XOR distance over hashed NodeIds (spec section 4.2), and the
// per-node Addresses list (spec section 4.3).
package kbucket

import (
	"github.com/multiformats/go-multiaddr"
)

// Addresses is an ordered, deduplicated list of multi-addresses, each
// tagged connected or not. It generalizes the teacher's simpler
// connection-pool bookkeeping (core/connection_pool*.go) to the
// per-node multi-address model the Rust reference keeps
// (original_source/network/src/kad/behaviour.rs NodeInfo.addresses).
type Addresses struct {
	entries []addrEntry
}

type addrEntry struct {
	addr      multiaddr.Multiaddr
	connected bool
}

// InsertConnected marks addr present and connected, moving it to the
// end (most-recent) if already present.
func (a *Addresses) InsertConnected(addr multiaddr.Multiaddr) {
	if i := a.indexOf(addr); i >= 0 {
		a.entries = append(a.entries[:i], a.entries[i+1:]...)
		a.entries = append(a.entries, addrEntry{addr: addr, connected: true})
		return
	}
	a.entries = append(a.entries, addrEntry{addr: addr, connected: true})
}

// InsertNotConnected only creates an entry if absent; it never
// downgrades an existing connected entry.
func (a *Addresses) InsertNotConnected(addr multiaddr.Multiaddr) {
	if a.indexOf(addr) >= 0 {
		return
	}
	a.entries = append(a.entries, addrEntry{addr: addr, connected: false})
}

// SetDisconnected flips addr's tag to not-connected if present.
func (a *Addresses) SetDisconnected(addr multiaddr.Multiaddr) {
	if i := a.indexOf(addr); i >= 0 {
		a.entries[i].connected = false
	}
}

// SetAllDisconnected flips every address's tag to not-connected, used
// when the whole peer (not just one address) goes away.
func (a *Addresses) SetAllDisconnected() {
	for i := range a.entries {
		a.entries[i].connected = false
	}
}

// RemoveAddr deletes addr from the list.
func (a *Addresses) RemoveAddr(addr multiaddr.Multiaddr) {
	if i := a.indexOf(addr); i >= 0 {
		a.entries = append(a.entries[:i], a.entries[i+1:]...)
	}
}

// IsConnected reports whether any address is tagged connected.
func (a *Addresses) IsConnected() bool {
	for _, e := range a.entries {
		if e.connected {
			return true
		}
	}
	return false
}

// Size returns the number of distinct addresses held.
func (a *Addresses) Size() int { return len(a.entries) }

// Iter returns the addresses in insertion order.
func (a *Addresses) Iter() []multiaddr.Multiaddr {
	out := make([]multiaddr.Multiaddr, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.addr
	}
	return out
}

func (a *Addresses) indexOf(addr multiaddr.Multiaddr) int {
	for i, e := range a.entries {
		if e.addr.Equal(addr) {
			return i
		}
	}
	return -1
}
