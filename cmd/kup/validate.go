package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without running any backup stage.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Plan:")
	fmt.Printf("  Name: %s\n", cfg.Plan.Name)
	fmt.Printf("  Paths: %s\n", strings.Join(cfg.Plan.PathsIncluded, ", "))
	if len(cfg.Plan.PathsExcluded) > 0 {
		fmt.Printf("  Excluded: %s\n", strings.Join(cfg.Plan.PathsExcluded, ", "))
	}
	if cfg.Plan.ExcludePatternsFile != "" {
		fmt.Printf("  Exclude patterns: %s\n", cfg.Plan.ExcludePatternsFile)
	}
	fmt.Printf("  Integrity check: %v\n", cfg.Plan.VerifyIntegrity)
	fmt.Printf("  Recovery info: %v\n", cfg.Plan.GenerateRecoveryInfo)
	fmt.Println()
	fmt.Println("Destination:")
	fmt.Printf("  Archive: %s\n", cfg.Destination.Path)
	fmt.Printf("  Log file: %s\n", cfg.Destination.LogFile)
	fmt.Println()
	fmt.Println("Tools:")
	fmt.Printf("  bup: %s\n", cfg.Tools.Bup)
	fmt.Printf("  Snapshot name: %s\n", cfg.Tools.SnapshotName)
	fmt.Printf("  Progress interval: %s\n", cfg.Progress.Interval)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  Remote command: %v\n", cfg.Remote != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		fmt.Printf("  Timeout: %s\n", cfg.WOL.Timeout)
	}

	if cfg.Remote != nil {
		fmt.Println()
		fmt.Println("Remote Command Configuration:")
		fmt.Printf("  Host: %s\n", cfg.Remote.Host)
		fmt.Printf("  Port: %d\n", cfg.Remote.Port)
		fmt.Printf("  Username: %s\n", cfg.Remote.Username)
		fmt.Printf("  Command: %s\n", cfg.Remote.Command)
		fmt.Printf("  On failure: %v\n", cfg.Remote.OnFailure)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	return nil
}
