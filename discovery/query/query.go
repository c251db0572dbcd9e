// Package query implements the per-lookup iterative state machine
// (spec section 4.4): α-parallel dispatch, k-result convergence,
// deadline-based timeout, and explicit poll() stepping rather than
// coroutine-style suspension (spec section 9).
package query

import (
	"time"

	"synnergy-node/synnid"
)

// Parallelism is α: the maximum concurrent RPCs per query.
const Parallelism = 3

// NumResults is k: the number of results a query converges on.
const NumResults = 20

// RPCTimeout is the deadline for an individual RPC.
const RPCTimeout = 8 * time.Second

// TargetKind distinguishes the two RPC verbs a query can drive.
type TargetKind int

const (
	FindPeer TargetKind = iota
	GetProviders
)

// Target is what a query is looking for: either the k closest peers to
// a NodeId's hash, or the providers of a content key, both addressed
// by their 512-bit hash.
type Target struct {
	Kind TargetKind
	Hash synnid.Hash
}

type contactState int

const (
	notContacted contactState = iota
	waiting
	succeeded
	failed
)

type candidate struct {
	id       synnid.NodeId
	state    contactState
	deadline time.Time
}

// Config seeds a new query.
type Config struct {
	Target              Target
	Parallelism         int
	NumResults          int
	RPCTimeout          time.Duration
	KnownClosestPeers    []synnid.NodeId // pre-sorted ascending by distance to Target.Hash
}

// State is a single iterative lookup's live memory.
type State struct {
	target      Target
	parallelism int
	numResults  int
	rpcTimeout  time.Duration

	closest []*candidate // kept sorted ascending by distance to target
	now     func() time.Time
}

// New creates a query seeded with cfg.KnownClosestPeers.
func New(cfg Config) *State {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = Parallelism
	}
	if cfg.NumResults <= 0 {
		cfg.NumResults = NumResults
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = RPCTimeout
	}
	s := &State{
		target:      cfg.Target,
		parallelism: cfg.Parallelism,
		numResults:  cfg.NumResults,
		rpcTimeout:  cfg.RPCTimeout,
		now:         time.Now,
	}
	seen := make(map[synnid.NodeId]bool, len(cfg.KnownClosestPeers))
	for _, id := range cfg.KnownClosestPeers {
		if seen[id] {
			continue
		}
		seen[id] = true
		s.closest = append(s.closest, &candidate{id: id, state: notContacted})
	}
	return s
}

// Target returns the query's target.
func (s *State) Target() Target { return s.target }

// PollResultKind tags the outcome of Poll.
type PollResultKind int

const (
	NotReady PollResultKind = iota
	SendRpc
	CancelRpc
	Finished
)

// PollResult is the tagged step poll() returns (spec section 4.4,
// section 9).
type PollResult struct {
	Kind   PollResultKind
	NodeID synnid.NodeId // valid for SendRpc, CancelRpc
	Target Target        // valid for SendRpc
}

// Poll drives the query forward by one step. Callers re-invoke Poll
// until it returns Finished or NotReady.
func (s *State) Poll() PollResult {
	now := s.now()

	// Expire any deadlines that have passed.
	for _, c := range s.closest {
		if c.state == waiting && now.After(c.deadline) {
			c.state = failed
		}
	}

	if s.waitingCount() < s.parallelism {
		if c := s.nextDispatchable(); c != nil {
			c.state = waiting
			c.deadline = now.Add(s.rpcTimeout)
			return PollResult{Kind: SendRpc, NodeID: c.id, Target: s.target}
		}
	}

	if s.isDone() {
		return PollResult{Kind: Finished}
	}
	return PollResult{Kind: NotReady}
}

func (s *State) waitingCount() int {
	n := 0
	for _, c := range s.closest {
		if c.state == waiting {
			n++
		}
	}
	return n
}

// kthSucceededIndex returns the index, within s.closest (which
// is kept sorted ascending by distance), of the k-th Succeeded entry,
// or len(s.closest) if fewer than k have succeeded.
func (s *State) kthSucceededIndex() int {
	count := 0
	for i, c := range s.closest {
		if c.state == succeeded {
			count++
			if count == s.numResults {
				return i
			}
		}
	}
	return len(s.closest)
}

// nextDispatchable returns the closest NotContacted candidate that is
// still closer than the k-th Succeeded entry, or nil if dispatching
// would not make progress.
func (s *State) nextDispatchable() *candidate {
	bound := s.kthSucceededIndex()
	for i, c := range s.closest {
		if c.state != notContacted {
			continue
		}
		if i >= bound {
			return nil
		}
		return c
	}
	return nil
}

// isDone reports whether the query has converged: the k closest
// entries are all Succeeded|Failed and nothing remains Waiting, or no
// further progress is possible.
func (s *State) isDone() bool {
	if s.waitingCount() > 0 {
		return false
	}
	bound := s.kthSucceededIndex()
	for i, c := range s.closest {
		if i >= bound {
			break
		}
		if c.state == notContacted {
			return false
		}
	}
	return true
}

// InjectRpcResult records a successful reply from fromNode and merges
// closerPeers into the candidate set (deduped, self excluded by the
// caller).
func (s *State) InjectRpcResult(fromNode synnid.NodeId, closerPeers []synnid.NodeId) {
	s.markState(fromNode, succeeded)
	existing := make(map[synnid.NodeId]bool, len(s.closest))
	for _, c := range s.closest {
		existing[c.id] = true
	}
	for _, id := range closerPeers {
		if existing[id] {
			continue
		}
		existing[id] = true
		s.closest = append(s.closest, &candidate{id: id, state: notContacted})
	}
	s.resort()
}

// InjectRpcError marks node Failed, e.g. on dial failure, RPC error,
// or disconnect.
func (s *State) InjectRpcError(node synnid.NodeId) {
	s.markState(node, failed)
}

// IsWaiting reports whether node currently has an in-flight RPC.
func (s *State) IsWaiting(node synnid.NodeId) bool {
	for _, c := range s.closest {
		if c.id == node {
			return c.state == waiting
		}
	}
	return false
}

func (s *State) markState(node synnid.NodeId, st contactState) {
	for _, c := range s.closest {
		if c.id == node {
			if c.state == waiting || c.state == notContacted {
				c.state = st
			}
			return
		}
	}
}

func (s *State) resort() {
	targetHash := s.target.Hash
	// insertion sort: closest is usually already sorted except for
	// the handful of newly appended candidates.
	for i := 1; i < len(s.closest); i++ {
		j := i
		for j > 0 && synnid.Less(targetHash, synnid.HashNodeId(s.closest[j].id), synnid.HashNodeId(s.closest[j-1].id)) {
			s.closest[j], s.closest[j-1] = s.closest[j-1], s.closest[j]
			j--
		}
	}
}

// ClosestPeers returns up to NumResults closest Succeeded nodes, the
// query's output (spec section 4.4).
func (s *State) ClosestPeers() []synnid.NodeId {
	out := make([]synnid.NodeId, 0, s.numResults)
	for _, c := range s.closest {
		if c.state == succeeded {
			out = append(out, c.id)
			if len(out) == s.numResults {
				break
			}
		}
	}
	return out
}
