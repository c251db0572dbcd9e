// Package chain defines the ChainView contract spec section 2 calls an
// external collaborator, plus a minimal in-memory implementation
// sufficient to drive the ViewChangeCollector and the Kademlia
// discovery initializer. It deliberately does not implement block
// format, UTXO validation, or the consensus safety (voting) layer —
// those remain out of scope per spec's Non-goals.
package chain

import (
	"sync"

	"synnergy-node/synncrypto"
	"synnergy-node/synnid"
)

// ValidatorId is a dense, epoch-local index into the ordered validator
// list. It is stable within an epoch (spec section 3).
type ValidatorId = uint32

// ValidatorInfo is a validator's identity and staked weight, a
// generalization of the teacher's core/consensus_validator_management.go
// ValidatorInfo{Addr, Stake} keyed by NodeId instead of a wallet
// Address — NodeId signs blocks, an Address merely holds funds.
type ValidatorInfo struct {
	NodeID synnid.NodeId
	PubKey synncrypto.PublicKey
	Stake  uint64
}

// CheckSupermajority reports whether collected strictly exceeds
// two-thirds of total — the Open Question spec section 9 flags as
// ambiguous. This module pins the strict inequality
// 3*collected > 2*total, matching the Rust reference implementation's
// documented "more than 2/3rd" semantics (original_source
// consensus/src/optimistic.rs).
func CheckSupermajority(collected, total uint64) bool {
	if total == 0 {
		return false
	}
	return 3*collected > 2*total
}

// View is the read-only facade the consensus and discovery layers
// consume: current tip identity, validator set, leader selection, and
// the last VRF random value.
type View interface {
	Height() uint64
	LastBlockHash() synnid.Hash
	ViewChange() uint32
	Validators() []ValidatorInfo
	TotalStake() uint64
	Leader() synnid.NodeId
	LastRandom() [32]byte
}

// Memory is an in-memory ChainView double: enough state to exercise
// the collector and discovery initializer in tests and the demo
// binary, not a ledger.
type Memory struct {
	mu         sync.RWMutex
	height     uint64
	lastBlock  synnid.Hash
	viewChange uint32
	validators []ValidatorInfo
	lastRandom [32]byte
}

// NewMemory builds a chain view double seeded with the given
// validator set at height 0.
func NewMemory(validators []ValidatorInfo) *Memory {
	return &Memory{validators: append([]ValidatorInfo(nil), validators...)}
}

func (m *Memory) Height() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height
}

func (m *Memory) LastBlockHash() synnid.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBlock
}

func (m *Memory) ViewChange() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewChange
}

func (m *Memory) Validators() []ValidatorInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ValidatorInfo(nil), m.validators...)
}

func (m *Memory) TotalStake() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total uint64
	for _, v := range m.validators {
		total += v.Stake
	}
	return total
}

// Leader selects the current round's leader by round-robin over the
// validator list, offset by the view-change counter so a stalled
// leader is skipped once a ViewChangeProof advances the view.
func (m *Memory) Leader() synnid.NodeId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.validators) == 0 {
		return synnid.NodeId{}
	}
	idx := (m.height + uint64(m.viewChange)) % uint64(len(m.validators))
	return m.validators[idx].NodeID
}

func (m *Memory) LastRandom() [32]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRandom
}

// AdvanceBlock simulates a new payment block landing: height
// increments, the view-change counter resets, and the tip hash/random
// move on. Callers (e.g. ViewChangeCollector.on_new_payment_block
// wiring) observe this through the View interface.
func (m *Memory) AdvanceBlock(newHash synnid.Hash, newRandom [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height++
	m.viewChange = 0
	m.lastBlock = newHash
	m.lastRandom = newRandom
}

// AdvanceViewChange applies a ViewChangeProof: the block height does
// not move, but the view counter does, skipping the stalled leader.
func (m *Memory) AdvanceViewChange() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewChange++
}

// SetValidators replaces the validator set (an epoch transition),
// triggering ViewChangeCollector.on_new_consensus in callers.
func (m *Memory) SetValidators(validators []ValidatorInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators = append([]ValidatorInfo(nil), validators...)
}
