package synnid

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestCommonPrefixLen(t *testing.T) {
	var a, b Hash
	a[0] = 0b11110000
	b[0] = 0b11110000
	if got := CommonPrefixLen(a, b); got != len(a)*8 {
		t.Fatalf("identical hashes: got prefix %d, want %d", got, len(a)*8)
	}

	b[0] = 0b11100000
	if got := CommonPrefixLen(a, b); got != 3 {
		t.Fatalf("expected prefix 3, got %d", got)
	}
}

func TestLessOrdersByDistance(t *testing.T) {
	var target, near, far Hash
	near[len(near)-1] = 1
	far[len(far)-1] = 2
	if !Less(target, near, far) {
		t.Fatalf("expected near to be closer to target than far")
	}
	if Less(target, far, near) {
		t.Fatalf("far should not be reported closer than near")
	}
	if Less(target, near, near) {
		t.Fatalf("a node is never strictly closer than itself")
	}
}

func TestHashNodeIdDeterministic(t *testing.T) {
	var id NodeId
	id[0] = 0x42
	h1 := HashNodeId(id)
	h2 := HashNodeId(id)
	if h1 != h2 {
		t.Fatalf("HashNodeId is not deterministic")
	}

	id[1] = 0x43
	h3 := HashNodeId(id)
	if h3 == h1 {
		t.Fatalf("distinct node ids hashed to the same value")
	}
}

func TestMultihashRoundTrip(t *testing.T) {
	var id NodeId
	id[0] = 0x07
	h := HashNodeId(id)

	mh, err := h.ToMultihash()
	if err != nil {
		t.Fatalf("ToMultihash: %v", err)
	}
	back, err := HashFromMultihash(mh)
	if err != nil {
		t.Fatalf("HashFromMultihash: %v", err)
	}
	if back != h {
		t.Fatalf("multihash round trip mismatch")
	}
}

func TestNodeIdJSONRoundTrip(t *testing.T) {
	var id NodeId
	for i := range id {
		id[i] = byte(i)
	}
	data, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back NodeId
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != id {
		t.Fatalf("node id JSON round trip mismatch")
	}
}

func TestHashJSONRoundTrip(t *testing.T) {
	var h Hash
	for i := range h {
		h[i] = byte(255 - i)
	}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Hash
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != h {
		t.Fatalf("hash JSON round trip mismatch")
	}
}

func TestHashUnmarshalRejectsBadLength(t *testing.T) {
	short := []byte(`"abcd"`)
	var h Hash
	if err := h.UnmarshalJSON(short); err == nil {
		t.Fatalf("expected error for undersized hash payload")
	}
}

func TestDistanceSymmetric(t *testing.T) {
	var a, b Hash
	a[0], b[0] = 0xAB, 0xCD
	d1 := Distance(a, b)
	d2 := Distance(b, a)
	if !bytes.Equal(d1[:], d2[:]) {
		t.Fatalf("XOR distance is not symmetric")
	}
	self := Distance(a, a)
	if self != (Hash{}) {
		t.Fatalf("distance to self must be zero")
	}
}
