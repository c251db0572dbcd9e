// Command synnergyd is the node binary: it loads configuration, starts
// the libp2p transport, and runs the discovery and consensus event
// loops, generalizing the teacher's cmd/synnergy/main.go mock testnet
// command into an actually-wired node process.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-node/chain"
	"synnergy-node/consensus"
	"synnergy-node/discovery"
	"synnergy-node/metrics"
	"synnergy-node/synnconfig"
	"synnergy-node/synncrypto"
	"synnergy-node/transport"
)

var log = logrus.WithField("component", "synnergyd")

func main() {
	root := &cobra.Command{Use: "synnergyd"}
	root.AddCommand(startCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a synnergy node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(env)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "environment overlay config name")
	return cmd
}

func run(env string) error {
	cfg, err := synnconfig.Load(env)
	if err != nil {
		return err
	}
	configureLogging(cfg)

	sk, pk, err := synncrypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	nodeID, err := pk.NodeId()
	if err != nil {
		return err
	}

	view := chain.NewMemory([]chain.ValidatorInfo{{NodeID: nodeID, PubKey: pk, Stake: 1}})
	collector := consensus.NewCollector(view, pk, sk)

	kad := discovery.New(nodeID, randByte)

	t, err := transport.New(transport.Config{
		ListenAddr:     cfg.Network.ListenAddr,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
	}, kad)
	if err != nil {
		return err
	}

	health := consensus.NewHealthMonitor(t, collector, view,
		time.Duration(cfg.Consensus.HealthCheckMS)*time.Millisecond, cfg.Consensus.MaxMisses)
	health.Start(time.Duration(cfg.Consensus.HealthCheckMS) * time.Millisecond)
	defer health.Stop()

	mc := metrics.New()
	go serveMetrics(mc)

	if err := subscribeViewChange(t, view, collector, mc); err != nil {
		return err
	}
	go broadcastOwnVotes(t, health, mc)

	kad.Bootstrap()
	log.WithField("node_id", nodeID.String()).Info("synnergyd started")

	pollLoop(kad, mc)
	return nil
}

// subscribeViewChange relays every gossiped view-change vote into the
// local collector, broadcasting the resulting proof once supermajority
// stake is reached.
func subscribeViewChange(t *transport.Node, view *chain.Memory, collector *consensus.Collector, mc *metrics.Collector) error {
	sub, err := t.SubscribeViewChange()
	if err != nil {
		return err
	}
	go func() {
		for {
			m, err := sub.Next(context.Background())
			if err != nil {
				return
			}
			var msg consensus.ViewChangeMessage
			if err := json.Unmarshal(m.Data, &msg); err != nil {
				continue
			}
			proof, err := collector.HandleMessage(view, msg)
			mc.SetStakeProgress(collector.CollectedStake(), view.TotalStake())
			if err != nil {
				log.WithError(err).Debug("rejected view-change vote")
				continue
			}
			if proof == nil {
				continue
			}
			mc.IncProofEmitted()
			payload, err := json.Marshal(proof)
			if err != nil {
				continue
			}
			if err := t.BroadcastViewChange(context.Background(), payload); err != nil {
				log.WithError(err).Warn("failed to broadcast view-change proof")
			}
		}
	}()
	return nil
}

// broadcastOwnVotes gossips this node's own view-change votes whenever
// the health monitor decides the leader looks faulty.
func broadcastOwnVotes(t *transport.Node, health *consensus.HealthMonitor, mc *metrics.Collector) {
	for msg := range health.Votes() {
		mc.IncViewChange()
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := t.BroadcastViewChange(context.Background(), payload); err != nil {
			log.WithError(err).Warn("failed to broadcast view-change vote")
		}
	}
}

func pollLoop(kad *discovery.Behavior, mc *metrics.Collector) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		mc.SetActiveQueries(kad.ActiveQueryCount())
		mc.SetTableSize(kad.Table().Size())
		action := kad.Poll(time.Now())
		switch action.Kind {
		case discovery.ActionNotReady:
			// nothing to do this tick
		default:
			log.WithField("action", action.Kind).Debug("discovery action")
		}
	}
}

func serveMetrics(mc *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mc.Handler())
	if err := http.ListenAndServe(":9100", mux); err != nil {
		log.WithError(err).Warn("metrics server stopped")
	}
}

func configureLogging(cfg *synnconfig.Config) {
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(lvl)
	}
	if cfg.Logging.File != "" {
		if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			logrus.SetOutput(f)
		}
	}
}

func randByte() byte {
	var b [1]byte
	_, _ = rand.Read(b[:])
	return b[0]
}
