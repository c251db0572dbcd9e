package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"synnergy-node/chain"
	"synnergy-node/consensus"
	"synnergy-node/synncrypto"
)

var (
	consensusView      *chain.Memory
	consensusCollector *consensus.Collector
	consensusOnce      sync.Once
)

func consensusInit(*cobra.Command, []string) error {
	consensusOnce.Do(func() {
		sk, pk, err := synncrypto.GenerateKeyPair()
		if err != nil {
			return
		}
		nodeID, err := pk.NodeId()
		if err != nil {
			return
		}
		consensusView = chain.NewMemory([]chain.ValidatorInfo{{NodeID: nodeID, PubKey: pk, Stake: 1}})
		consensusCollector = consensus.NewCollector(consensusView, pk, sk)
	})
	return nil
}

func consensusStatus(cmd *cobra.Command, _ []string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "height=%d view_change=%d is_validator=%v collected_stake=%d\n",
		consensusView.Height(), consensusView.ViewChange(), consensusCollector.IsValidator(), consensusCollector.CollectedStake())
	return nil
}

func consensusTimeout(cmd *cobra.Command, _ []string) error {
	msg := consensusCollector.HandleTimeout(consensusView)
	if msg == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "not a validator, no vote cast")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cast view-change vote for validator %d at height %d\n", msg.ValidatorID, msg.Chain.Height)
	return nil
}

var consensusCmd = &cobra.Command{
	Use:               "consensus",
	Short:             "view-change liveness status",
	PersistentPreRunE: consensusInit,
}

var consensusStatusCmd = &cobra.Command{Use: "status", Args: cobra.NoArgs, RunE: consensusStatus}
var consensusTimeoutCmd = &cobra.Command{Use: "timeout", Short: "simulate a block-production timeout", Args: cobra.NoArgs, RunE: consensusTimeout}

func init() {
	consensusCmd.AddCommand(consensusStatusCmd, consensusTimeoutCmd)
}

// RegisterConsensus wires the consensus command group into root.
func RegisterConsensus(root *cobra.Command) { root.AddCommand(consensusCmd) }
