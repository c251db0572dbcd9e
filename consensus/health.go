package consensus

import (
	"context"
	"sync"
	"time"

	"synnergy-node/chain"
	"synnergy-node/synnid"
)

// Pinger probes a validator for liveness. Implementations live in the
// transport package; consensus only depends on the contract, the same
// separation the teacher draws in core/fault_tolerance.go.
type Pinger interface {
	Ping(ctx context.Context, node synnid.NodeId) (time.Duration, error)
}

// HealthMonitor adapts the teacher's RTT-EWMA HealthChecker
// (core/fault_tolerance.go) to drive Collector.HandleTimeout
// automatically: when the current leader's score crosses the
// configured thresholds, it emits a ViewChangeMessage on Votes()
// instead of requiring an external timer to call HandleTimeout by hand.
type HealthMonitor struct {
	mu        sync.Mutex
	scores    map[synnid.NodeId]*score
	alpha     float64
	maxRTT    float64
	maxMisses int

	ping      Pinger
	collector *Collector
	view      chain.View

	votes chan ViewChangeMessage
	stop  chan struct{}
	wg    sync.WaitGroup
}

type score struct {
	ewma   float64
	misses int
}

// NewHealthMonitor builds a monitor that pings view's current leader
// on every tick (the interval is given to Start) and flags it faulty
// after maxMisses consecutive failures or once its EWMA round-trip time
// exceeds maxRTT.
func NewHealthMonitor(ping Pinger, collector *Collector, view chain.View, maxRTT time.Duration, maxMisses int) *HealthMonitor {
	return &HealthMonitor{
		scores:    make(map[synnid.NodeId]*score),
		alpha:     0.2,
		maxRTT:    float64(maxRTT.Milliseconds()),
		maxMisses: maxMisses,
		ping:      ping,
		collector: collector,
		view:      view,
		votes:     make(chan ViewChangeMessage, 1),
		stop:      make(chan struct{}),
	}
}

// Votes delivers view-change votes this monitor decided to cast
// because the leader looked faulty; the caller is responsible for
// broadcasting them, same contract as Collector.HandleTimeout.
func (hm *HealthMonitor) Votes() <-chan ViewChangeMessage { return hm.votes }

// Start launches the periodic ping loop.
func (hm *HealthMonitor) Start(interval time.Duration) {
	hm.wg.Add(1)
	go hm.loop(interval)
}

// Stop terminates the ping loop.
func (hm *HealthMonitor) Stop() {
	close(hm.stop)
	hm.wg.Wait()
}

func (hm *HealthMonitor) loop(interval time.Duration) {
	defer hm.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			hm.tick(interval)
		case <-hm.stop:
			return
		}
	}
}

func (hm *HealthMonitor) tick(interval time.Duration) {
	leader := hm.view.Leader()
	if leader.IsZero() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), interval)
	defer cancel()
	rtt, err := hm.ping.Ping(ctx, leader)

	hm.mu.Lock()
	st, ok := hm.scores[leader]
	if !ok {
		st = &score{}
		hm.scores[leader] = st
	}
	if err != nil {
		st.misses++
	} else {
		st.misses = 0
		ms := float64(rtt.Milliseconds())
		if st.ewma == 0 {
			st.ewma = ms
		} else {
			st.ewma = hm.alpha*ms + (1-hm.alpha)*st.ewma
		}
	}
	faulty := st.misses >= hm.maxMisses || (hm.maxRTT > 0 && st.ewma > hm.maxRTT)
	hm.mu.Unlock()

	if !faulty {
		return
	}
	if msg := hm.collector.HandleTimeout(hm.view); msg != nil {
		select {
		case hm.votes <- *msg:
		default:
		}
	}
}
