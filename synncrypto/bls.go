// Package synncrypto is the crypto facade spec section 2 treats as an
// external collaborator: hashing, BLS sign/verify/aggregate, and VRF.
// Only the contract matters to the consensus and discovery packages;
// this file supplies a concrete implementation grounded on
// github.com/herumi/bls-eth-go-binary, the library the teacher
// repository already uses for validator signatures (core/security.go).
package synncrypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	bls "github.com/herumi/bls-eth-go-binary/bls"

	"synnergy-node/pkg/utils"
	"synnergy-node/synnid"
)

var initOnce sync.Once
var initErr error

func ensureInit() error {
	initOnce.Do(func() {
		initErr = bls.Init(bls.BLS12_381)
	})
	return initErr
}

// PublicKey wraps a BLS12-381 public key in G2 (96 bytes serialized).
type PublicKey struct{ inner bls.PublicKey }

// SecretKey wraps a BLS12-381 secret key.
type SecretKey struct{ inner bls.SecretKey }

// Signature wraps a BLS12-381 signature in G1 (48 bytes serialized).
type Signature struct{ inner bls.Sign }

// GenerateKeyPair creates a fresh validator keypair.
func GenerateKeyPair() (SecretKey, PublicKey, error) {
	if err := ensureInit(); err != nil {
		return SecretKey{}, PublicKey{}, err
	}
	var sk bls.SecretKey
	sk.SetByCSPRNG()
	return SecretKey{inner: sk}, PublicKey{inner: *sk.GetPublicKey()}, nil
}

// NodeId returns the fixed-width NodeId corresponding to pk.
func (pk PublicKey) NodeId() (synnid.NodeId, error) {
	raw := pk.inner.Serialize()
	if len(raw) != synnid.PubKeySize {
		return synnid.NodeId{}, fmt.Errorf("synncrypto: unexpected pubkey length %d", len(raw))
	}
	var id synnid.NodeId
	copy(id[:], raw)
	return id, nil
}

// PublicKeyFromNodeId deserializes a NodeId back into a PublicKey.
func PublicKeyFromNodeId(id synnid.NodeId) (PublicKey, error) {
	if err := ensureInit(); err != nil {
		return PublicKey{}, err
	}
	var pk bls.PublicKey
	if err := pk.Deserialize(id[:]); err != nil {
		return PublicKey{}, utils.Wrap(err, "deserialize node id")
	}
	return PublicKey{inner: pk}, nil
}

// Sign signs msg (the caller is expected to pass a digest, e.g. the
// output of Hash) with sk.
func (sk SecretKey) Sign(msg []byte) Signature {
	return Signature{inner: *sk.inner.SignByte(msg)}
}

// Verify checks sig over msg under pk.
func Verify(pk PublicKey, msg []byte, sig Signature) bool {
	s := sig.inner
	p := pk.inner
	return s.VerifyByte(&p, msg)
}

// Bytes returns the compressed serialization of sig.
func (sig Signature) Bytes() []byte { return sig.inner.Serialize() }

// SignatureFromBytes deserializes a compressed BLS signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	if err := ensureInit(); err != nil {
		return Signature{}, err
	}
	var s bls.Sign
	if err := s.Deserialize(b); err != nil {
		return Signature{}, utils.Wrap(err, "deserialize signature")
	}
	return Signature{inner: s}, nil
}

// MarshalJSON hex-encodes the compressed signature; bls.Sign carries
// no exported fields for encoding/json to walk on its own.
func (sig Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(sig.Bytes()))
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (sig *Signature) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	decoded, err := SignatureFromBytes(raw)
	if err != nil {
		return err
	}
	*sig = decoded
	return nil
}

// MarshalJSON hex-encodes the compressed public key; bls.PublicKey
// carries no exported fields for encoding/json to walk on its own.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	id, err := pk.NodeId()
	if err != nil {
		return nil, err
	}
	return json.Marshal(hex.EncodeToString(id[:]))
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	var id synnid.NodeId
	if len(raw) != len(id) {
		return fmt.Errorf("synncrypto: unexpected public key length %d", len(raw))
	}
	copy(id[:], raw)
	decoded, err := PublicKeyFromNodeId(id)
	if err != nil {
		return err
	}
	*pk = decoded
	return nil
}

// Aggregate combines per-validator signatures, all covering the same
// message, into a single aggregate signature. It implements the
// aggregate() contract spec section 9 assigns to the external
// multi-signature primitive.
func Aggregate(sigs []Signature) (Signature, error) {
	if len(sigs) == 0 {
		return Signature{}, errors.New("synncrypto: no signatures to aggregate")
	}
	agg := sigs[0].inner
	for _, s := range sigs[1:] {
		next := s.inner
		agg.Add(&next)
	}
	return Signature{inner: agg}, nil
}

// AggregatePublicKeys combines public keys, used to verify an
// aggregate signature against the set of contributing validators.
func AggregatePublicKeys(pks []PublicKey) (PublicKey, error) {
	if len(pks) == 0 {
		return PublicKey{}, errors.New("synncrypto: no public keys to aggregate")
	}
	agg := pks[0].inner
	for _, pk := range pks[1:] {
		next := pk.inner
		agg.Add(&next)
	}
	return PublicKey{inner: agg}, nil
}

// Hash produces a 32-byte SHA-256 digest, the message fed to Sign/Verify
// for consensus votes (ChainInfo) and the VRF output. Discovery keys
// are hashed separately, with synnid.HashBytes/HashNodeId (SHA3-512).
func Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}
