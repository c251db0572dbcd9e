package synncrypto

import (
	"encoding/json"
	"testing"
)

func TestSignVerify(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := Hash([]byte("view-change digest"))
	sig := sk.Sign(msg[:])
	if !Verify(pk, msg[:], sig) {
		t.Fatalf("signature failed to verify")
	}

	other := Hash([]byte("a different digest"))
	if Verify(pk, other[:], sig) {
		t.Fatalf("signature verified against the wrong message")
	}
}

func TestVerifyWrongKeyFails(t *testing.T) {
	sk, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	_, otherPK, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := Hash([]byte("payload"))
	sig := sk.Sign(msg[:])
	if Verify(otherPK, msg[:], sig) {
		t.Fatalf("signature verified under an unrelated public key")
	}
}

func TestAggregateSignaturesAndKeys(t *testing.T) {
	const n = 4
	msg := Hash([]byte("aggregate me"))
	var sigs []Signature
	var pks []PublicKey
	for i := 0; i < n; i++ {
		sk, pk, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		sigs = append(sigs, sk.Sign(msg[:]))
		pks = append(pks, pk)
	}

	aggSig, err := Aggregate(sigs)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	aggPK, err := AggregatePublicKeys(pks)
	if err != nil {
		t.Fatalf("AggregatePublicKeys: %v", err)
	}
	if !Verify(aggPK, msg[:], aggSig) {
		t.Fatalf("aggregate signature failed to verify against aggregate key")
	}
}

func TestAggregateRejectsEmpty(t *testing.T) {
	if _, err := Aggregate(nil); err == nil {
		t.Fatalf("expected error aggregating zero signatures")
	}
	if _, err := AggregatePublicKeys(nil); err == nil {
		t.Fatalf("expected error aggregating zero public keys")
	}
}

func TestNodeIdRoundTrip(t *testing.T) {
	_, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	id, err := pk.NodeId()
	if err != nil {
		t.Fatalf("NodeId: %v", err)
	}
	back, err := PublicKeyFromNodeId(id)
	if err != nil {
		t.Fatalf("PublicKeyFromNodeId: %v", err)
	}
	backID, err := back.NodeId()
	if err != nil {
		t.Fatalf("NodeId (round trip): %v", err)
	}
	if backID != id {
		t.Fatalf("public key round trip through NodeId mismatched")
	}
}

func TestSignatureJSONRoundTrip(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := Hash([]byte("wire me"))
	sig := sk.Sign(msg[:])

	data, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded Signature
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !Verify(pk, msg[:], decoded) {
		t.Fatalf("signature decoded from JSON failed to verify")
	}
}

func TestPublicKeyJSONRoundTrip(t *testing.T) {
	_, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	data, err := json.Marshal(pk)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded PublicKey
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	wantID, _ := pk.NodeId()
	gotID, _ := decoded.NodeId()
	if wantID != gotID {
		t.Fatalf("public key JSON round trip mismatched")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	data := []byte("some message")
	if Hash(data) != Hash(data) {
		t.Fatalf("Hash is not deterministic")
	}
	if Hash(data) == Hash([]byte("some message ")) {
		t.Fatalf("distinct inputs hashed to the same digest")
	}
}
