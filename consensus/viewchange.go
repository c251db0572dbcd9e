package consensus

import (
	"encoding/binary"

	"synnergy-node/chain"
	"synnergy-node/synncrypto"
	"synnergy-node/synnid"
)

// ChainInfo summarises the current tip identity a view-change vote is
// cast over. It hashes identically for all honest validators observing
// the same tip at the same view (spec section 3 invariant).
type ChainInfo struct {
	Height     uint64
	LastBlock  synnid.Hash
	ViewChange uint32
}

// ChainInfoFrom builds a ChainInfo snapshot of a chain.View.
func ChainInfoFrom(v chain.View) ChainInfo {
	return ChainInfo{
		Height:     v.Height(),
		LastBlock:  v.LastBlockHash(),
		ViewChange: v.ViewChange(),
	}
}

// Hash returns the digest voters sign over.
func (c ChainInfo) Hash() [32]byte {
	buf := make([]byte, 8+len(c.LastBlock)+4)
	binary.BigEndian.PutUint64(buf[0:8], c.Height)
	copy(buf[8:8+len(c.LastBlock)], c.LastBlock[:])
	binary.BigEndian.PutUint32(buf[8+len(c.LastBlock):], c.ViewChange)
	return synncrypto.Hash(buf)
}

// ValidatorId is a dense epoch-local validator index.
type ValidatorId = chain.ValidatorId

// ViewChangeMessage is one validator's signed vote over a ChainInfo
// (spec section 3).
type ViewChangeMessage struct {
	Chain       ChainInfo
	ValidatorID ValidatorId
	Signature   synncrypto.Signature
}

// NewViewChangeMessage signs chain with skey on behalf of validatorID.
func NewViewChangeMessage(chainInfo ChainInfo, validatorID ValidatorId, skey synncrypto.SecretKey) ViewChangeMessage {
	digest := chainInfo.Hash()
	return ViewChangeMessage{
		Chain:       chainInfo,
		ValidatorID: validatorID,
		Signature:   skey.Sign(digest[:]),
	}
}

// Validate checks that msg.ValidatorID indexes a current validator and
// that the signature verifies under that validator's key. It does not
// check height/last-block/view-change against the live chain — that is
// ViewChangeCollector.HandleMessage's job, since Validate alone cannot
// know "current" without a chain view.
func (msg ViewChangeMessage) Validate(validators []chain.ValidatorInfo) error {
	if int(msg.ValidatorID) >= len(validators) {
		return &Error{Kind: ErrInvalidValidatorID, ValidatorID: msg.ValidatorID}
	}
	author := validators[msg.ValidatorID].PubKey
	digest := msg.Chain.Hash()
	if !synncrypto.Verify(author, digest[:], msg.Signature) {
		return &Error{Kind: ErrInvalidViewChangeSignature}
	}
	return nil
}

// ViewChangeProof is the aggregate a validator can present to justify
// skipping the stalled leader: the ChainInfo it witnesses, a combined
// multi-signature, and a bitmap of which validators contributed.
type ViewChangeProof struct {
	Chain             ChainInfo
	AggregateSignature synncrypto.Signature
	ValidatorBitmap    Bitmap
}

// Bitmap is a dense bitmap over the current validator list, one bit
// per ValidatorId, set for contributors to the aggregate signature.
type Bitmap []byte

// NewBitmap allocates a bitmap wide enough for n validators.
func NewBitmap(n int) Bitmap {
	return make(Bitmap, (n+7)/8)
}

// Set marks validator id as a contributor.
func (b Bitmap) Set(id ValidatorId) {
	b[id/8] |= 1 << (id % 8)
}

// IsSet reports whether validator id contributed.
func (b Bitmap) IsSet(id ValidatorId) bool {
	if int(id/8) >= len(b) {
		return false
	}
	return b[id/8]&(1<<(id%8)) != 0
}

// Indices returns the set bits, in ascending order.
func (b Bitmap) Indices() []ValidatorId {
	var out []ValidatorId
	for i := range b {
		for bit := 0; bit < 8; bit++ {
			if b[i]&(1<<bit) != 0 {
				out = append(out, ValidatorId(i*8+bit))
			}
		}
	}
	return out
}

// NewViewChangeProof aggregates the given per-validator votes into a
// single proof.
func NewViewChangeProof(chainInfo ChainInfo, votes map[ValidatorId]ViewChangeMessage, numValidators int) (ViewChangeProof, error) {
	bitmap := NewBitmap(numValidators)
	sigs := make([]synncrypto.Signature, 0, len(votes))
	for id, msg := range votes {
		bitmap.Set(id)
		sigs = append(sigs, msg.Signature)
	}
	agg, err := synncrypto.Aggregate(sigs)
	if err != nil {
		return ViewChangeProof{}, err
	}
	return ViewChangeProof{
		Chain:              chainInfo,
		AggregateSignature: agg,
		ValidatorBitmap:    bitmap,
	}, nil
}

// Verify checks the proof against the validator set: the combined
// signature must verify against the aggregated public key of the
// bitmap-selected validators, and their summed stake must meet the
// supermajority threshold.
func (p ViewChangeProof) Verify(validators []chain.ValidatorInfo) bool {
	ids := p.ValidatorBitmap.Indices()
	if len(ids) == 0 {
		return false
	}
	pks := make([]synncrypto.PublicKey, 0, len(ids))
	var stake uint64
	var total uint64
	for _, v := range validators {
		total += v.Stake
	}
	for _, id := range ids {
		if int(id) >= len(validators) {
			return false
		}
		pks = append(pks, validators[id].PubKey)
		stake += validators[id].Stake
	}
	if !chain.CheckSupermajority(stake, total) {
		return false
	}
	aggPK, err := synncrypto.AggregatePublicKeys(pks)
	if err != nil {
		return false
	}
	digest := p.Chain.Hash()
	return synncrypto.Verify(aggPK, digest[:], p.AggregateSignature)
}
