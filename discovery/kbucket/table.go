package kbucket

import (
	"sort"
	"time"

	"synnergy-node/synnid"
)

// K is the maximum number of entries held per bucket (spec section 6).
const K = 20

// NumBuckets is the fixed depth of the table: one bucket per bit of
// the 512-bit hashed node-identity space (spec section 3).
const NumBuckets = synnid.HashSize * 8

// BucketExpiration is how long a bucket may go untouched before it is
// considered stale (spec section 3, section 6).
const BucketExpiration = 5 * time.Minute

// NodeInfo is what the table stores about a node besides its identity:
// an optional transport PeerId and its known multi-addresses.
type NodeInfo struct {
	PeerID    *synnid.PeerId
	Addresses Addresses
}

type entry struct {
	id   synnid.NodeId
	info NodeInfo
}

type bucket struct {
	// entries are ordered oldest (index 0, the LRU / eviction
	// candidate) to newest (last, the MRU).
	entries     []*entry
	pending     *entry
	lastRefresh time.Time
}

func (b *bucket) touch() { b.lastRefresh = time.Now() }

func (b *bucket) stale(now time.Time) bool {
	return b.lastRefresh.IsZero() || now.Sub(b.lastRefresh) > BucketExpiration
}

func (b *bucket) indexOf(id synnid.NodeId) int {
	for i, e := range b.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

// UpdateKind tags the result of Table.SetConnected.
type UpdateKind int

const (
	// UpdateInserted: the node was placed into its bucket (created or
	// promoted) without displacing anything pending confirmation.
	UpdateInserted UpdateKind = iota
	// UpdatePending: the bucket was full and its LRU entry is still
	// marked connected; the caller should ping lru to confirm
	// liveness before the new node can be admitted.
	UpdatePending
)

// Update is the outcome of Table.SetConnected.
type Update struct {
	Kind UpdateKind
	LRU  synnid.NodeId // valid when Kind == UpdatePending
}

// Table is a k-bucket routing table owned by a single node, keyed by
// other nodes' hashed identities (spec section 4.2).
type Table struct {
	myID     synnid.NodeId
	myHash   synnid.Hash
	buckets  [NumBuckets]*bucket
}

// New builds a routing table for myID.
func New(myID synnid.NodeId) *Table {
	return &Table{myID: myID, myHash: synnid.HashNodeId(myID)}
}

// MyID returns the table owner's identity.
func (t *Table) MyID() synnid.NodeId { return t.myID }

// NewTable returns a fresh table for a rotated identity, as required
// when a node's keypair changes.
func (t *Table) NewTable(newMyID synnid.NodeId) *Table {
	return New(newMyID)
}

func (t *Table) bucketIndex(id synnid.NodeId) int {
	h := synnid.HashNodeId(id)
	idx := synnid.CommonPrefixLen(t.myHash, h)
	if idx >= NumBuckets {
		idx = NumBuckets - 1
	}
	return idx
}

func (t *Table) bucketFor(id synnid.NodeId) *bucket {
	idx := t.bucketIndex(id)
	b := t.buckets[idx]
	if b == nil {
		b = &bucket{}
		t.buckets[idx] = b
	}
	return b
}

// Get performs a no-promotion lookup.
func (t *Table) Get(id synnid.NodeId) (*NodeInfo, bool) {
	if id == t.myID {
		return nil, false
	}
	b := t.buckets[t.bucketIndex(id)]
	if b == nil {
		return nil, false
	}
	if i := b.indexOf(id); i >= 0 {
		info := b.entries[i].info
		return &info, true
	}
	return nil, false
}

// EntryMut returns a mutable pointer to id's NodeInfo for in-place
// mutators (SetPeerID, address list updates). Absent nodes are a
// silent no-op for the caller (spec section 7).
func (t *Table) EntryMut(id synnid.NodeId) *NodeInfo {
	if id == t.myID {
		return nil
	}
	b := t.buckets[t.bucketIndex(id)]
	if b == nil {
		return nil
	}
	if i := b.indexOf(id); i >= 0 {
		return &b.entries[i].info
	}
	return nil
}

// SetConnected moves id to the MRU position of its bucket, creating an
// entry if this is the first observation of id. If the bucket is full
// and its LRU entry is already disconnected, that entry is evicted to
// make room; if the LRU entry is still connected, id is parked in the
// bucket's pending slot and Update.Kind == UpdatePending is returned so
// the caller can ping the LRU to confirm it is still alive.
func (t *Table) SetConnected(id synnid.NodeId) Update {
	if id == t.myID {
		return Update{Kind: UpdateInserted}
	}
	b := t.bucketFor(id)
	b.touch()

	if i := b.indexOf(id); i >= 0 {
		e := b.entries[i]
		b.entries = append(append(b.entries[:i:i], b.entries[i+1:]...), e)
		return Update{Kind: UpdateInserted}
	}

	newEntry := &entry{id: id}
	if len(b.entries) < K {
		b.entries = append(b.entries, newEntry)
		return Update{Kind: UpdateInserted}
	}

	lru := b.entries[0]
	if !lru.info.Addresses.IsConnected() {
		b.entries = append(b.entries[1:], newEntry)
		return Update{Kind: UpdateInserted}
	}

	b.pending = newEntry
	return Update{Kind: UpdatePending, LRU: lru.id}
}

// ConfirmAlive discards a pending candidate after its bucket's LRU
// entry (id) proved reachable on a liveness ping.
func (t *Table) ConfirmAlive(id synnid.NodeId) {
	b := t.buckets[t.bucketIndex(id)]
	if b == nil || b.pending == nil {
		return
	}
	if len(b.entries) > 0 && b.entries[0].id == id {
		b.pending = nil
	}
}

// EvictPending replaces a bucket's LRU entry (id, which failed its
// liveness ping) with the parked pending candidate, if any.
func (t *Table) EvictPending(id synnid.NodeId) {
	b := t.buckets[t.bucketIndex(id)]
	if b == nil || b.pending == nil {
		return
	}
	if len(b.entries) > 0 && b.entries[0].id == id {
		b.entries = append(b.entries[1:], b.pending)
		b.pending = nil
	}
}

// SetDisconnected marks all of id's addresses disconnected without
// evicting the entry — eviction only happens via SetConnected's LRU
// path once the bucket needs the slot.
func (t *Table) SetDisconnected(id synnid.NodeId) {
	if info := t.EntryMut(id); info != nil {
		info.Addresses.SetAllDisconnected()
	}
}

type candidate struct {
	id   synnid.NodeId
	dist synnid.Hash
}

// FindClosest yields all known nodes in ascending XOR distance to
// targetHash, without duplicates.
func (t *Table) FindClosest(targetHash synnid.Hash) []synnid.NodeId {
	var all []candidate
	for _, b := range t.buckets {
		if b == nil {
			continue
		}
		for _, e := range b.entries {
			all = append(all, candidate{id: e.id, dist: synnid.Distance(targetHash, synnid.HashNodeId(e.id))})
		}
	}
	sort.Slice(all, func(i, j int) bool { return lessHash(all[i].dist, all[j].dist) })
	out := make([]synnid.NodeId, len(all))
	for i, c := range all {
		out[i] = c.id
	}
	return out
}

// FindClosestWithSelf is FindClosest but also includes the table
// owner's own id in its correctly sorted position.
func (t *Table) FindClosestWithSelf(targetHash synnid.Hash) []synnid.NodeId {
	closest := t.FindClosest(targetHash)
	myDist := synnid.Distance(targetHash, t.myHash)
	out := make([]synnid.NodeId, 0, len(closest)+1)
	inserted := false
	for _, id := range closest {
		d := synnid.Distance(targetHash, synnid.HashNodeId(id))
		if !inserted && lessHash(myDist, d) {
			out = append(out, t.myID)
			inserted = true
		}
		out = append(out, id)
	}
	if !inserted {
		out = append(out, t.myID)
	}
	return out
}

func lessHash(a, b synnid.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Size returns the total number of entries across all buckets.
func (t *Table) Size() int {
	n := 0
	for _, b := range t.buckets {
		if b != nil {
			n += len(b.entries)
		}
	}
	return n
}

// RandomHashInBucket generates a random 512-bit hash whose
// CommonPrefixLen against myHash is exactly bucketIdx — used by the
// discovery behavior's initialization sweep (spec section 4.5),
// ported from the Rust reference's gen_random_hash
// (original_source/network/src/kad/behaviour.rs lines 905-936).
func RandomHashInBucket(myHash synnid.Hash, bucketIdx int, randByte func() byte) synnid.Hash {
	var out synnid.Hash
	fullBytes := bucketIdx / 8
	copy(out[:fullBytes], myHash[:fullBytes])
	if fullBytes < len(out) {
		bitsIntoByte := bucketIdx % 8
		// The first differing bit sits at position bitsIntoByte of
		// byte fullBytes (0 = MSB); flip it, then fully randomize the
		// remaining bits of that byte and every byte after it.
		keepMask := ^byte(0xFF >> bitsIntoByte) // high bitsIntoByte bits preserved
		flipBit := byte(0x80) >> bitsIntoByte
		randomBits := byte(0xFF >> (bitsIntoByte + 1))
		r := randByte()
		out[fullBytes] = (myHash[fullBytes] & keepMask) | (^myHash[fullBytes] & flipBit) | (r & randomBits)
		for i := fullBytes + 1; i < len(out); i++ {
			out[i] = randByte()
		}
	}
	return out
}
