package consensus

import (
	"testing"

	"synnergy-node/chain"
	"synnergy-node/synncrypto"
	"synnergy-node/synnid"
)

type keyedValidator struct {
	sk synncrypto.SecretKey
	chain.ValidatorInfo
}

func newKeyedValidators(t *testing.T, stakes ...uint64) []keyedValidator {
	t.Helper()
	out := make([]keyedValidator, len(stakes))
	for i, stake := range stakes {
		sk, pk, err := synncrypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		nodeID, err := pk.NodeId()
		if err != nil {
			t.Fatalf("NodeId: %v", err)
		}
		out[i] = keyedValidator{sk: sk, ValidatorInfo: chain.ValidatorInfo{NodeID: nodeID, PubKey: pk, Stake: stake}}
	}
	return out
}

func infos(vs []keyedValidator) []chain.ValidatorInfo {
	out := make([]chain.ValidatorInfo, len(vs))
	for i, v := range vs {
		out[i] = v.ValidatorInfo
	}
	return out
}

func TestChainInfoHashStable(t *testing.T) {
	info := ChainInfo{Height: 10, LastBlock: synnid.Hash{1, 2, 3}, ViewChange: 2}
	if info.Hash() != info.Hash() {
		t.Fatalf("ChainInfo.Hash is not deterministic")
	}
	other := info
	other.ViewChange = 3
	if info.Hash() == other.Hash() {
		t.Fatalf("distinct ChainInfo values hashed identically")
	}
}

func TestViewChangeMessageValidate(t *testing.T) {
	vs := newKeyedValidators(t, 1, 1)
	info := ChainInfo{Height: 5, LastBlock: synnid.Hash{9}, ViewChange: 1}
	msg := NewViewChangeMessage(info, 0, vs[0].sk)

	if err := msg.Validate(infos(vs)); err != nil {
		t.Fatalf("Validate: unexpected error %v", err)
	}

	wrongID := msg
	wrongID.ValidatorID = 5
	if err := wrongID.Validate(infos(vs)); err == nil {
		t.Fatalf("expected error for an out-of-range validator id")
	}

	wrongSig := NewViewChangeMessage(info, 0, vs[1].sk)
	if err := wrongSig.Validate(infos(vs)); err == nil {
		t.Fatalf("expected signature verification to fail under the wrong key")
	}
}

func TestBitmapSetIsSetIndices(t *testing.T) {
	b := NewBitmap(20)
	b.Set(0)
	b.Set(5)
	b.Set(19)
	if !b.IsSet(0) || !b.IsSet(5) || !b.IsSet(19) {
		t.Fatalf("expected bits 0, 5, 19 to be set")
	}
	if b.IsSet(1) {
		t.Fatalf("bit 1 should not be set")
	}
	got := b.Indices()
	want := []ValidatorId{0, 5, 19}
	if len(got) != len(want) {
		t.Fatalf("Indices() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Indices() = %v, want %v", got, want)
		}
	}
}

func TestViewChangeProofVerify(t *testing.T) {
	vs := newKeyedValidators(t, 1, 1, 1, 1)
	info := ChainInfo{Height: 8, LastBlock: synnid.Hash{7}, ViewChange: 0}

	votes := make(map[ValidatorId]ViewChangeMessage)
	for i := 0; i < 3; i++ { // 3 of 4 validators: supermajority
		id := ValidatorId(i)
		votes[id] = NewViewChangeMessage(info, id, vs[i].sk)
	}

	proof, err := NewViewChangeProof(info, votes, len(vs))
	if err != nil {
		t.Fatalf("NewViewChangeProof: %v", err)
	}
	if !proof.Verify(infos(vs)) {
		t.Fatalf("expected a 3-of-4 proof to verify")
	}
}

func TestViewChangeProofVerifyRejectsBelowThreshold(t *testing.T) {
	vs := newKeyedValidators(t, 1, 1, 1, 1)
	info := ChainInfo{Height: 8, LastBlock: synnid.Hash{7}, ViewChange: 0}

	votes := map[ValidatorId]ViewChangeMessage{
		0: NewViewChangeMessage(info, 0, vs[0].sk),
		1: NewViewChangeMessage(info, 1, vs[1].sk),
	}
	proof, err := NewViewChangeProof(info, votes, len(vs))
	if err != nil {
		t.Fatalf("NewViewChangeProof: %v", err)
	}
	if proof.Verify(infos(vs)) {
		t.Fatalf("expected a 2-of-4 proof to fail the supermajority check")
	}
}

func TestViewChangeProofVerifyEmptyBitmap(t *testing.T) {
	vs := newKeyedValidators(t, 1, 1)
	proof := ViewChangeProof{ValidatorBitmap: NewBitmap(len(vs))}
	if proof.Verify(infos(vs)) {
		t.Fatalf("a proof with no contributors must never verify")
	}
}
