package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List paired devices",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	roster, err := openPairedStore()
	if err != nil {
		return fmt.Errorf("open paired-device roster: %w", err)
	}

	devs := roster.List()
	if len(devs) == 0 {
		fmt.Println("no paired devices")
		return nil
	}

	for _, d := range devs {
		fmt.Printf("%-36s  %-20s  %-8s  last seen %s (via %s)\n",
			d.DeviceID, d.Name, d.Platform, d.LastSeen.Format("2006-01-02 15:04:05"), d.LastSuccessTransport)
	}
	return nil
}
