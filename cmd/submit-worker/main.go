// cmd/submit-worker/main.go
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/raisekit/outreach-orchestrator/internal/driver"
	"github.com/raisekit/outreach-orchestrator/internal/submitworker"
)

var (
	configPath string
	serverURL  string
	workerID   string
	maxSlots   int
	authToken  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "submit-worker",
		Short: "Submission worker that connects to an orchestrator coordinator",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.Flags().StringVar(&serverURL, "server", "", "Coordinator WebSocket URL")
	rootCmd.Flags().StringVar(&workerID, "id", "", "Worker ID")
	rootCmd.Flags().IntVar(&maxSlots, "slots", 2, "Maximum concurrent submissions")
	rootCmd.Flags().StringVar(&authToken, "token", "", "Coordinator auth token")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Config defines the submit-worker configuration file format
type Config struct {
	Server struct {
		URL   string `toml:"url"`
		Token string `toml:"token"`
	} `toml:"server"`
	Worker struct {
		ID       string `toml:"id"`
		MaxSlots int    `toml:"max_slots"`
	} `toml:"worker"`
}

// Default config file locations (checked in order)
var defaultConfigPaths = []string{
	"/etc/submit-worker/config.toml",
	"/etc/submit-worker.toml",
}

func run(cmd *cobra.Command, args []string) error {
	var cfg Config

	cfgPath := configPath
	if cfgPath == "" {
		for _, p := range defaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
				break
			}
		}
	}

	if cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return fmt.Errorf("reading config %s: %w", cfgPath, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config %s: %w", cfgPath, err)
		}
		fmt.Printf("Loaded config from %s\n", cfgPath)
	}

	// CLI flags override config (only if explicitly set)
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if authToken != "" {
		cfg.Server.Token = authToken
	}
	if workerID != "" {
		cfg.Worker.ID = workerID
	}
	if cmd.Flags().Changed("slots") {
		cfg.Worker.MaxSlots = maxSlots
	}

	// Defaults
	if cfg.Worker.MaxSlots == 0 {
		cfg.Worker.MaxSlots = 2
	}
	if cfg.Worker.ID == "" {
		hostname, _ := os.Hostname()
		cfg.Worker.ID = hostname
	}
	if tok := os.Getenv("OUTREACH_POOL_TOKEN"); tok != "" && cfg.Server.Token == "" {
		cfg.Server.Token = tok
	}

	worker, err := submitworker.NewWorker(submitworker.WorkerConfig{
		ServerURL: cfg.Server.URL,
		WorkerID:  cfg.Worker.ID,
		MaxSlots:  cfg.Worker.MaxSlots,
		AuthToken: cfg.Server.Token,
	}, driver.Simulator{})
	if err != nil {
		return fmt.Errorf("creating worker: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		worker.Stop()
	}()

	fmt.Printf("Starting worker %s connecting to %s (max_slots=%d)...\n",
		cfg.Worker.ID, cfg.Server.URL, cfg.Worker.MaxSlots)

	// Run with automatic reconnection (blocks until stopped)
	return worker.RunWithReconnect()
}
