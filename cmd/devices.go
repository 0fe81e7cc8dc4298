package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/echoid/internal/audio/backend"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available capture devices",
	Long:  `List the microphones the configured audio backend can record from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backendType, devices, err := backend.ListDevices(cfg)
		if err != nil {
			return fmt.Errorf("failed to list %s devices: %w", backendType, err)
		}

		fmt.Printf("Capture devices (%s, %s)\n", backendType, runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		if len(devices) == 0 {
			fmt.Println("  No capture devices found")
			return nil
		}
		for i, d := range devices {
			marker := ""
			if d.IsDefault {
				marker = " (default)"
			}
			fmt.Printf("  %d. %s%s\n", i+1, d.Name, marker)
			if d.MaxInputChannels > 0 {
				fmt.Printf("     channels: %d, default rate: %.0f Hz\n", d.MaxInputChannels, d.DefaultSampleRate)
			}
		}

		fmt.Printf("\nUsage:\n")
		fmt.Printf("  • Configure audio.device with a name from the list, or leave it empty for the default\n")
		fmt.Printf("  • Available backends: %v\n\n", backend.GetAvailableBackends())
		return nil
	},
}
