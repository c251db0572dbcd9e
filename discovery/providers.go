package discovery

import (
	"time"

	"synnergy-node/synnid"
)

// ProviderTTL is how long a provider registration is honoured before
// it must be refreshed, ported from the Rust reference's republish
// interval (original_source/network/src/kad/behaviour.rs
// refresh_add_providers, spec section 4.5).
const ProviderTTL = 60 * time.Second

// ProviderRecord is one node's registration as a provider of a key.
type ProviderRecord struct {
	Node       synnid.NodeId
	ExpiresAt  time.Time
}

// providerStore tracks, for every content key this node has learned
// providers for, which nodes announced they provide it, and separately
// which keys THIS node itself provides (so they can be periodically
// re-announced to the network).
type providerStore struct {
	providersOf  map[synnid.Hash][]ProviderRecord
	providingKeys map[synnid.Hash]struct{}
}

func newProviderStore() *providerStore {
	return &providerStore{
		providersOf:   make(map[synnid.Hash][]ProviderRecord),
		providingKeys: make(map[synnid.Hash]struct{}),
	}
}

// addProvider records that node provides key, refreshing its TTL if
// already present.
func (s *providerStore) addProvider(key synnid.Hash, node synnid.NodeId, now time.Time) {
	recs := s.providersOf[key]
	for i := range recs {
		if recs[i].Node == node {
			recs[i].ExpiresAt = now.Add(ProviderTTL)
			return
		}
	}
	s.providersOf[key] = append(recs, ProviderRecord{Node: node, ExpiresAt: now.Add(ProviderTTL)})
}

// providers returns the live (non-expired) providers of key.
func (s *providerStore) providers(key synnid.Hash, now time.Time) []synnid.NodeId {
	recs := s.providersOf[key]
	out := make([]synnid.NodeId, 0, len(recs))
	for _, r := range recs {
		if now.Before(r.ExpiresAt) {
			out = append(out, r.Node)
		}
	}
	return out
}

// expire drops stale provider records across all keys.
func (s *providerStore) expire(now time.Time) {
	for key, recs := range s.providersOf {
		kept := recs[:0]
		for _, r := range recs {
			if now.Before(r.ExpiresAt) {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(s.providersOf, key)
		} else {
			s.providersOf[key] = kept
		}
	}
}

// addProviding marks key as one this node itself provides, so it gets
// periodically re-announced, and ensures self is recorded among key's
// providers (spec section 4.5: "ensure my_id in providers[key]").
func (s *providerStore) addProviding(key synnid.Hash, self synnid.NodeId, now time.Time) {
	s.providingKeys[key] = struct{}{}
	s.addProvider(key, self, now)
}

// removeProviding stops this node from re-announcing key.
func (s *providerStore) removeProviding(key synnid.Hash) {
	delete(s.providingKeys, key)
}

// providingKeyList returns the keys this node currently provides.
func (s *providerStore) providingKeyList() []synnid.Hash {
	out := make([]synnid.Hash, 0, len(s.providingKeys))
	for k := range s.providingKeys {
		out = append(out, k)
	}
	return out
}
