// Package synnid defines the node-identity primitives shared by the
// consensus and discovery layers: the cryptographic NodeId (a BLS
// public key) as distinct from the transport-level PeerId, and the
// multihash conversion used as the DHT key.
package synnid

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/bits"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/sha3"
)

// PubKeySize is the serialized size of a BLS12-381 public key as produced
// by github.com/herumi/bls-eth-go-binary/bls in its default (non-ETH)
// mode: public keys live in G2 (96 bytes), signatures in G1 (48 bytes),
// which keeps aggregated validator signatures small. See synncrypto.
const PubKeySize = 96

// HashSize is the width of the hashed node identity used as a DHT key:
// 512 bits, as required by spec section 6.
const HashSize = 64

// NodeId is a validator's cryptographic identity: a fixed-width BLS
// public key. It is stable for as long as the validator's keypair is,
// unlike a PeerId which is tied to a single transport connection.
type NodeId [PubKeySize]byte

// PeerId is the transport-level identity. A NodeId has at most one
// active PeerId at a time; the reverse mapping is a bounded LRU owned
// by the discovery behavior.
type PeerId = peer.ID

// String renders the NodeId as hex for logs.
func (n NodeId) String() string {
	return hex.EncodeToString(n[:8]) + "…"
}

// IsZero reports whether n is the zero value (used as a sentinel for
// "no validator identity").
func (n NodeId) IsZero() bool {
	return n == NodeId{}
}

// MarshalJSON hex-encodes the full NodeId for wire messages.
func (n NodeId) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(n[:]))
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (n *NodeId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(n) {
		return errors.New("synnid: unexpected node id length")
	}
	copy(n[:], raw)
	return nil
}

// Hash is a 512-bit digest of a DHT key: a node identity, a provider
// key, or any other value looked up in the routing table.
type Hash [HashSize]byte

// MarshalJSON hex-encodes the full hash for wire messages.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h[:]))
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(h) {
		return errors.New("synnid: unexpected hash length")
	}
	copy(h[:], raw)
	return nil
}

// HashNodeId hashes a NodeId into its DHT key space.
func HashNodeId(id NodeId) Hash {
	return Hash(sha3.Sum512(id[:]))
}

// HashBytes hashes an arbitrary key (e.g. a provider key) into the DHT
// key space.
func HashBytes(b []byte) Hash {
	return Hash(sha3.Sum512(b))
}

// ToMultihash wraps h in a self-describing SHA3-512 multihash, carrying
// the 2-byte algorithm/length prefix spec section 9 flags as needing
// explicit agreement with the wire codec.
func (h Hash) ToMultihash() (multihash.Multihash, error) {
	return multihash.Encode(h[:], multihash.SHA3_512)
}

// HashFromMultihash is the inverse of ToMultihash.
func HashFromMultihash(mh multihash.Multihash) (Hash, error) {
	decoded, err := multihash.Decode(mh)
	if err != nil {
		return Hash{}, err
	}
	if decoded.Code != multihash.SHA3_512 || len(decoded.Digest) != HashSize {
		return Hash{}, errors.New("synnid: unexpected multihash code or length")
	}
	var h Hash
	copy(h[:], decoded.Digest)
	return h, nil
}

// Distance is the XOR metric between two hashes, expressed as the raw
// XORed bytes; CommonPrefixLen derives the bucket index from it.
func Distance(a, b Hash) Hash {
	var d Hash
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CommonPrefixLen returns the number of leading zero bits of the XOR
// distance between a and b — i.e. the length of their shared prefix.
// The k-bucket index for a peer is CommonPrefixLen(myHash, peerHash).
func CommonPrefixLen(a, b Hash) int {
	d := Distance(a, b)
	for i, bte := range d {
		if bte != 0 {
			return i*8 + bits.LeadingZeros8(bte)
		}
	}
	return len(d) * 8
}

// Less reports whether a is strictly closer to target than b (smaller
// XOR distance), used to keep closest_known sorted ascending.
func Less(target, a, b Hash) bool {
	da := Distance(target, a)
	db := Distance(target, b)
	for i := range da {
		if da[i] != db[i] {
			return da[i] < db[i]
		}
	}
	return false
}
