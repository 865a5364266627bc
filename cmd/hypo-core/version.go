package main

import (
	"github.com/spf13/cobra"

	"github.com/hypo-app/hypo-core/pkg/version"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hypo-core version",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print version information as JSON")
}

func runVersion(cmd *cobra.Command, args []string) error {
	if versionJSON {
		version.PrintVersionJSON()
		return nil
	}
	version.PrintVersion()
	return nil
}
