// Command hypo-core is the sync engine's host process: it wires together
// C1-C11 and exposes the daemon as a thin CLI wrapper.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configDir string
	dataDir   string
)

var rootCmd = &cobra.Command{
	Use:   "hypo-core",
	Short: "Hypo sync engine daemon and CLI",
	Long: `hypo-core runs the end-to-end-encrypted clipboard sync engine: LAN and
cloud-relay transports, mDNS peer discovery, pairing, and the sync
coordinator that keeps paired devices' clipboards in sync.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "directory holding <environment>.yaml / default.yaml")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".hypo", "directory for identity, keys, and the paired-device roster")

	// Note: subcommands are registered in their respective files.
}
