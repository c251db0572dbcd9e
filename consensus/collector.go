package consensus

import (
	"sync"

	"github.com/sirupsen/logrus"

	"synnergy-node/chain"
	"synnergy-node/synncrypto"
)

var log = logrus.WithField("component", "consensus")

// Collector drives liveness when the current leader fails to produce a
// block: it collects signed ViewChangeMessage votes over the current
// tip, and once their combined stake crosses the supermajority
// threshold, emits a ViewChangeProof the next leader can use to skip
// the stalled one (spec section 4.1).
//
// A Collector is safe for concurrent use: every exported method holds
// c.mu, so the gossip relay and the HealthMonitor can call it from
// different goroutines.
type Collector struct {
	mu sync.Mutex

	actualViewChanges map[ValidatorId]ViewChangeMessage
	collectedStake    uint64

	// validatorID is this node's index in the current validator set,
	// or nil if this node does not participate (the collector is then
	// passive: HandleMessage always returns (nil, nil) and
	// HandleTimeout always returns nil).
	validatorID *ValidatorId

	pkey synncrypto.PublicKey
	skey synncrypto.SecretKey
}

// NewCollector builds a Collector for a validator identified by
// (pkey, skey), initialised against the current chain view.
func NewCollector(view chain.View, pkey synncrypto.PublicKey, skey synncrypto.SecretKey) *Collector {
	c := &Collector{
		actualViewChanges: make(map[ValidatorId]ViewChangeMessage),
		pkey:              pkey,
		skey:              skey,
	}
	c.OnNewConsensus(view)
	return c
}

// IsValidator reports whether this node currently participates.
func (c *Collector) IsValidator() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validatorID != nil
}

// CollectedStake exposes the accumulator for tests and metrics.
func (c *Collector) CollectedStake() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectedStake
}

// OnNewConsensus recomputes validatorID by scanning the validator list
// for this node's public key, and resets accumulators. Called at every
// epoch/validator-set change. Idempotent.
func (c *Collector) OnNewConsensus(view chain.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()

	nodeID, err := c.pkey.NodeId()
	if err != nil {
		c.validatorID = nil
		return
	}
	validators := view.Validators()
	for i, v := range validators {
		if v.NodeID == nodeID {
			id := ValidatorId(i)
			c.validatorID = &id
			return
		}
	}
	c.validatorID = nil
}

// OnNewPaymentBlock resets accumulators whenever a block advances the
// tip, but leaves validatorID untouched: any in-flight votes refer to a
// now-stale tip.
func (c *Collector) OnNewPaymentBlock(_ chain.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validatorID == nil {
		return
	}
	c.reset()
}

// HandleTimeout is called on block-production timeout. It returns nil
// if this node is not a validator; otherwise it constructs and signs a
// ViewChangeMessage over the current tip. The caller broadcasts it.
func (c *Collector) HandleTimeout(view chain.View) *ViewChangeMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validatorID == nil {
		return nil
	}
	msg := NewViewChangeMessage(ChainInfoFrom(view), *c.validatorID, c.skey)
	log.WithFields(logrus.Fields{
		"validator_id": *c.validatorID,
		"view_change":  msg.Chain.ViewChange,
	}).Debug("timeout: broadcasting view-change vote")
	return &msg
}

// HandleMessage validates and, if novel, accumulates an inbound
// ViewChangeMessage. It returns a ViewChangeProof once the collected
// stake crosses the supermajority threshold. All validation errors
// leave state untouched; a non-validator node silently drops every
// message (returns nil, nil), which is not an error (spec section 7).
func (c *Collector) HandleMessage(view chain.View, msg ViewChangeMessage) (*ViewChangeProof, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.validatorID == nil {
		return nil, nil
	}

	info := ChainInfoFrom(view)
	if msg.Chain.Height != info.Height {
		return nil, &Error{Kind: ErrInvalidViewChangeHeight, Got: msg.Chain.Height, Want: info.Height}
	}
	if msg.Chain.LastBlock != info.LastBlock {
		return nil, &Error{Kind: ErrInvalidLastBlockHash, GotHash: msg.Chain.LastBlock, WantHash: info.LastBlock}
	}
	// TODO: buffer messages for a different view_change for catch-up
	// instead of rejecting outright (spec section 9 open question).
	if msg.Chain.ViewChange != info.ViewChange {
		return nil, &Error{Kind: ErrInvalidViewChangeCounter, Got: uint64(msg.Chain.ViewChange), Want: uint64(info.ViewChange)}
	}

	validators := view.Validators()
	if err := msg.Validate(validators); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"validator_id": msg.ValidatorID,
		"view_change":  msg.Chain.ViewChange,
	}).Info("received valid view-change vote")

	if _, seen := c.actualViewChanges[msg.ValidatorID]; !seen {
		c.actualViewChanges[msg.ValidatorID] = msg
		c.collectedStake += validators[msg.ValidatorID].Stake
	}

	total := view.TotalStake()
	log.WithFields(logrus.Fields{
		"collected": c.collectedStake,
		"total":     total,
	}).Debug("view-change stake progress")

	if chain.CheckSupermajority(c.collectedStake, total) {
		proof, err := NewViewChangeProof(info, c.actualViewChanges, len(validators))
		if err != nil {
			return nil, err
		}
		c.reset()
		return &proof, nil
	}
	return nil, nil
}

// reset clears the accumulator. Caller must hold c.mu.
func (c *Collector) reset() {
	c.actualViewChanges = make(map[ValidatorId]ViewChangeMessage)
	c.collectedStake = 0
}
