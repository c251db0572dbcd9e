package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"synnergy-node/discovery"
	"synnergy-node/synnid"
)

var (
	kadBehavior *discovery.Behavior
	kadOnce     sync.Once
)

func kadInit(cmd *cobra.Command, _ []string) error {
	kadOnce.Do(func() {
		idHex, _ := cmd.Flags().GetString("id")
		var id synnid.NodeId
		if idHex != "" {
			if raw, err := hex.DecodeString(idHex); err == nil {
				copy(id[:], raw)
			}
		}
		kadBehavior = discovery.New(id, cryptoRandByte)
	})
	return nil
}

func kadFindNode(cmd *cobra.Command, args []string) error {
	raw, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("decode node id: %w", err)
	}
	var target synnid.NodeId
	copy(target[:], raw)
	qid := kadBehavior.FindNode(target)
	fmt.Fprintf(cmd.OutOrStdout(), "started query %d\n", qid)
	return nil
}

func kadProviders(cmd *cobra.Command, args []string) error {
	key := synnid.HashBytes([]byte(args[0]))
	qid := kadBehavior.GetProviders(key)
	fmt.Fprintf(cmd.OutOrStdout(), "started query %d\n", qid)
	return nil
}

func kadProvide(cmd *cobra.Command, args []string) error {
	key := synnid.HashBytes([]byte(args[0]))
	qid := kadBehavior.AddProviding(key)
	fmt.Fprintf(cmd.OutOrStdout(), "announcing, query %d\n", qid)
	return nil
}

func kadPoll(cmd *cobra.Command, _ []string) error {
	action := kadBehavior.Poll(time.Now())
	fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", action)
	return nil
}

var kadCmd = &cobra.Command{
	Use:               "kad",
	Short:             "Kademlia-style peer discovery",
	PersistentPreRunE: kadInit,
}

var kadFindNodeCmd = &cobra.Command{Use: "find-node <node-id-hex>", Args: cobra.ExactArgs(1), RunE: kadFindNode}
var kadProvidersCmd = &cobra.Command{Use: "providers <key>", Args: cobra.ExactArgs(1), RunE: kadProviders}
var kadProvideCmd = &cobra.Command{Use: "provide <key>", Args: cobra.ExactArgs(1), RunE: kadProvide}
var kadPollCmd = &cobra.Command{Use: "poll", Args: cobra.NoArgs, RunE: kadPoll}

func init() {
	kadCmd.PersistentFlags().String("id", "", "local node id (hex-encoded BLS public key)")
	kadCmd.AddCommand(kadFindNodeCmd, kadProvidersCmd, kadProvideCmd, kadPollCmd)
}

// RegisterKad wires the kad command group into root.
func RegisterKad(root *cobra.Command) { root.AddCommand(kadCmd) }

func cryptoRandByte() byte {
	var b [1]byte
	_, _ = rand.Read(b[:])
	return b[0]
}
