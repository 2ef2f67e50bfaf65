// Hexstrike Daemon - Process Orchestration & Result Cache Engine
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/havij13/Hexstrike-AI-sub001/internal/daemon"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	var foreground bool

	rootCmd := &cobra.Command{
		Use:   "hexstriked",
		Short: "Hexstrike Daemon",
		Run: func(cmd *cobra.Command, args []string) {
			if configPath == "" {
				// Try default locations
				// 1. /etc/hexstrike/config.yaml
				// 2. ./config/config.yaml
				if _, err := os.Stat("/etc/hexstrike/config.yaml"); err == nil {
					configPath = "/etc/hexstrike/config.yaml"
				} else if _, err := os.Stat("./config/config.yaml"); err == nil {
					configPath = "./config/config.yaml"
				}
				// Built-in defaults otherwise
			}

			if configPath != "" {
				abs, err := filepath.Abs(configPath)
				if err != nil {
					log.Fatalf("Invalid config path: %v", err)
				}
				configPath = abs
			}

			// Set foreground mode via environment variable if flag is set
			if foreground {
				os.Setenv("HEXSTRIKE_FOREGROUND", "1")
			}

			d, err := daemon.New(configPath)
			if err != nil {
				log.Fatalf("Failed to create daemon: %v", err)
			}

			// Start daemon (blocks)
			if err := d.Start(); err != nil {
				log.Fatalf("Daemon error: %v", err)
			}
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (don't daemonize)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		Run: func(cmd *cobra.Command, args []string) {
			d, err := daemon.New(configPath)
			if err != nil {
				log.Fatalf("Failed to load configuration: %v", err)
			}
			if err := d.Stop(); err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
			fmt.Println("Hexstrike daemon stopped")
		},
	}
	stopCmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Run: func(cmd *cobra.Command, args []string) {
			d, err := daemon.New(configPath)
			if err != nil {
				log.Fatalf("Failed to load configuration: %v", err)
			}
			running, pid := d.Status()
			if !running {
				fmt.Println("Status:     stopped")
				return
			}
			fmt.Printf("Status:     running\nPID:        %d\n", pid)
		},
	}
	statusCmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")

	rootCmd.AddCommand(stopCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
