// Command synnergyctl is the operator CLI, following the teacher's
// cmd/synnergy/main.go cobra-root pattern and cmd/cli/kademlia.go's
// PersistentPreRunE-initialized subcommand group style.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{Use: "synnergyctl"}
	RegisterKad(root)
	RegisterConsensus(root)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
