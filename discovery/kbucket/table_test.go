package kbucket

import (
	"testing"

	"github.com/multiformats/go-multiaddr"

	"synnergy-node/synnid"
)

func idAt(b byte) synnid.NodeId {
	var id synnid.NodeId
	id[0] = b
	return id
}

// sameBucketIDs brute-forces n distinct node ids that all land in the same
// bucket of tbl, besides myID. Their hashed identities are unrelated to
// their raw byte patterns (synnid.HashNodeId runs them through SHA3-512),
// so locality has to be discovered rather than assumed.
func sameBucketIDs(t *testing.T, tbl *Table, n int) []synnid.NodeId {
	t.Helper()
	buckets := make(map[int][]synnid.NodeId)
	for i := 0; i < 1<<20 && len(buckets[widestBucket(buckets)]) < n; i++ {
		var id synnid.NodeId
		id[0] = byte(i)
		id[1] = byte(i >> 8)
		id[2] = byte(i >> 16)
		idx := tbl.bucketIndex(id)
		buckets[idx] = append(buckets[idx], id)
	}
	best := widestBucket(buckets)
	if len(buckets[best]) < n {
		t.Fatalf("could not find %d colliding ids after exhausting the search budget (found %d)", n, len(buckets[best]))
	}
	return buckets[best][:n]
}

func widestBucket(buckets map[int][]synnid.NodeId) int {
	best, bestLen := -1, -1
	for idx, ids := range buckets {
		if len(ids) > bestLen {
			best, bestLen = idx, len(ids)
		}
	}
	return best
}

func TestTableSetConnectedInsertsAndPromotes(t *testing.T) {
	me := idAt(0)
	tbl := New(me)

	a := idAt(1)
	tbl.SetConnected(a)
	if tbl.Size() != 1 {
		t.Fatalf("expected 1 entry, got %d", tbl.Size())
	}
	if _, ok := tbl.Get(a); !ok {
		t.Fatalf("expected to find a after insertion")
	}

	// Re-connecting an existing entry must not duplicate it.
	tbl.SetConnected(a)
	if tbl.Size() != 1 {
		t.Fatalf("re-connecting an existing node must not duplicate it, got size %d", tbl.Size())
	}
}

func TestTableSetConnectedIgnoresSelf(t *testing.T) {
	me := idAt(5)
	tbl := New(me)
	tbl.SetConnected(me)
	if tbl.Size() != 0 {
		t.Fatalf("the table must never store its own identity")
	}
}

func TestTableEvictsDisconnectedLRU(t *testing.T) {
	me := synnid.NodeId{}
	tbl := New(me)
	ids := sameBucketIDs(t, tbl, K+1)

	for _, id := range ids[:K] {
		tbl.SetConnected(id)
	}
	if tbl.Size() != K {
		t.Fatalf("expected bucket to fill to K=%d, got %d", K, tbl.Size())
	}

	// None of the K entries were ever marked connected via an address, so
	// the LRU (ids[0]) is evicted outright rather than parked pending.
	upd := tbl.SetConnected(ids[K])
	if upd.Kind != UpdateInserted {
		t.Fatalf("expected the disconnected LRU to be evicted immediately, got %v", upd.Kind)
	}
	if tbl.Size() != K {
		t.Fatalf("bucket must stay at capacity K=%d after eviction, got %d", K, tbl.Size())
	}
	if _, ok := tbl.Get(ids[0]); ok {
		t.Fatalf("expected the oldest entry to be evicted")
	}
	if _, ok := tbl.Get(ids[K]); !ok {
		t.Fatalf("expected the new candidate to be admitted")
	}
}

func mustAddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	a, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		t.Fatalf("NewMultiaddr(%q): %v", s, err)
	}
	return a
}

func TestTablePendingCandidateFlow(t *testing.T) {
	me := synnid.NodeId{}
	tbl := New(me)
	ids := sameBucketIDs(t, tbl, K+1)

	for _, id := range ids[:K] {
		tbl.SetConnected(id)
	}
	// Mark the LRU's address connected so the bucket treats it as alive.
	tbl.EntryMut(ids[0]).Addresses.InsertConnected(mustAddr(t, "/ip4/127.0.0.1/tcp/4001"))

	upd := tbl.SetConnected(ids[K])
	if upd.Kind != UpdatePending {
		t.Fatalf("expected UpdatePending when the bucket is full and its LRU is connected, got %v", upd.Kind)
	}
	if upd.LRU != ids[0] {
		t.Fatalf("expected the LRU candidate to be the first-inserted node")
	}
	if _, ok := tbl.Get(ids[K]); ok {
		t.Fatalf("a pending candidate must not yet occupy a bucket slot")
	}

	tbl.EvictPending(upd.LRU)
	if _, ok := tbl.Get(ids[K]); !ok {
		t.Fatalf("expected the pending candidate to replace the failed LRU entry")
	}
	if _, ok := tbl.Get(ids[0]); ok {
		t.Fatalf("expected the evicted LRU entry to be gone")
	}
}

func TestTableConfirmAliveDropsPending(t *testing.T) {
	me := synnid.NodeId{}
	tbl := New(me)
	ids := sameBucketIDs(t, tbl, K+1)

	for _, id := range ids[:K] {
		tbl.SetConnected(id)
	}
	tbl.EntryMut(ids[0]).Addresses.InsertConnected(mustAddr(t, "/ip4/127.0.0.1/tcp/4001"))
	tbl.SetConnected(ids[K])

	tbl.ConfirmAlive(ids[0])
	if _, ok := tbl.Get(ids[K]); ok {
		t.Fatalf("a confirmed-alive LRU should discard the pending candidate")
	}
	if _, ok := tbl.Get(ids[0]); !ok {
		t.Fatalf("the confirmed-alive LRU must remain in the table")
	}
}

func TestFindClosestOrdersByDistance(t *testing.T) {
	me := synnid.NodeId{}
	tbl := New(me)
	for i := 1; i <= 5; i++ {
		var id synnid.NodeId
		id[synnid.PubKeySize-1] = byte(i)
		tbl.SetConnected(id)
	}

	var target synnid.NodeId
	targetHash := synnid.HashNodeId(target)
	closest := tbl.FindClosest(targetHash)
	if len(closest) != 5 {
		t.Fatalf("expected 5 known nodes, got %d", len(closest))
	}
	for i := 1; i < len(closest); i++ {
		if synnid.Less(targetHash, synnid.HashNodeId(closest[i]), synnid.HashNodeId(closest[i-1])) {
			t.Fatalf("FindClosest did not return nodes in ascending distance order")
		}
	}
}

func TestFindClosestWithSelfIncludesOwner(t *testing.T) {
	me := synnid.NodeId{}
	tbl := New(me)
	var other synnid.NodeId
	other[0] = 0xFF
	tbl.SetConnected(other)

	var target synnid.NodeId
	withSelf := tbl.FindClosestWithSelf(synnid.HashNodeId(target))
	found := false
	for _, id := range withSelf {
		if id == me {
			found = true
		}
	}
	if !found {
		t.Fatalf("FindClosestWithSelf must include the table owner")
	}
	if len(withSelf) != 2 {
		t.Fatalf("expected owner plus the one known peer, got %d entries", len(withSelf))
	}
}

func TestRandomHashInBucketMatchesPrefixLen(t *testing.T) {
	var myHash synnid.Hash
	myHash[0] = 0b10101010
	counter := byte(0)
	randByte := func() byte {
		counter++
		return counter
	}

	for _, bucketIdx := range []int{0, 1, 7, 8, 9, 63} {
		h := RandomHashInBucket(myHash, bucketIdx, randByte)
		if got := synnid.CommonPrefixLen(myHash, h); got != bucketIdx {
			t.Fatalf("bucket %d: CommonPrefixLen(myHash, generated) = %d, want %d", bucketIdx, got, bucketIdx)
		}
	}
}
