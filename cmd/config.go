package cmd

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/echoid/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage echoid configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration with inheritance indicators",
	Long:  `Display the resolved configuration and which values are inherited from default vs profile-specific.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		inh := cfg.Inheritance
		if inh == nil {
			inh = &config.InheritanceInfo{}
		}

		fmt.Printf("=== RESOLVED CONFIGURATION ===\n")

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s %s\n", cfg.Audio.Backend, getInheritanceIndicator(inh.Audio.Backend))
		fmt.Printf("device: %q %s\n", cfg.Audio.Device, getInheritanceIndicator(inh.Audio.Device))
		fmt.Printf("sample_rate: %d %s\n", cfg.Audio.SampleRate, getInheritanceIndicator(inh.Audio.SampleRate))
		fmt.Printf("channels: %d %s\n", cfg.Audio.Channels, getInheritanceIndicator(inh.Audio.Channels))

		fmt.Printf("\n[Session]\n")
		fmt.Printf("seconds: %d %s\n", cfg.Session.Seconds, getInheritanceIndicator(inh.Session.Seconds))
		fmt.Printf("continuous: %t\n", cfg.Session.Continuous)

		fmt.Printf("\n[Recognition]\n")
		fmt.Printf("endpoint: %s %s\n", cfg.Recognition.Endpoint, getInheritanceIndicator(inh.Recognition.Endpoint))
		fmt.Printf("api_key: %s %s\n", maskSecret(cfg.Recognition.APIKey), getInheritanceIndicator(inh.Recognition.APIKey))
		fmt.Printf("code_param: %s %s\n", cfg.Recognition.CodeParam, getInheritanceIndicator(inh.Recognition.CodeParam))
		keys := make([]string, 0, len(cfg.Recognition.Params))
		for k := range cfg.Recognition.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("param %s: %s\n", k, cfg.Recognition.Params[k])
		}

		fmt.Printf("\n[History]\n")
		fmt.Printf("enabled: %t\n", cfg.History.IsEnabled())
		fmt.Printf("path: %s %s\n", cfg.History.Path, getInheritanceIndicator(inh.History.Path))

		fmt.Printf("\n[Server]\n")
		fmt.Printf("addr: %s %s\n", cfg.Server.Addr, getInheritanceIndicator(inh.Server.Addr))

		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use [profile]",
	Short: "Set the active configuration profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UpdateActiveConfig(cfgFile, args[0]); err != nil {
			return err
		}
		fmt.Printf("Active profile set to %s\n", args[0])
		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		if s == "" {
			return `""`
		}
		return "****"
	}
	return s[:4] + "****"
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInfoCmd)
	configCmd.AddCommand(configUseCmd)
}
