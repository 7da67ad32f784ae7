// Package cli wires the queue engine into a Cobra command-line interface:
// run starts the engine and blocks on OS signals, put submits jobs from a
// JSON file, pop claims jobs from a queue and prints them as JSON, and
// status prints per-queue job counts. Adapted from the teacher's cli.go,
// which built a three-command shape (run, enqueue, status) around its
// Controller; this version adds pop, drops the
// distributed gRPC master/worker mode entirely (Non-goal: this system is
// single-process) and points the commands at internal/engine instead.
package cli

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chuliyu/beaverq/internal/engine"
	"github.com/chuliyu/beaverq/internal/metrics"
)

// Config is the complete system configuration, loaded from a YAML file.
type Config struct {
	Engine struct {
		WALPath                 string `yaml:"wal_path"`
		SnapshotPath            string `yaml:"snapshot_path"`
		WALBufferSize           int    `yaml:"wal_buffer_size"`
		WALFlushIntervalMs      int    `yaml:"wal_flush_interval_ms"`
		SnapshotIntervalSeconds int    `yaml:"snapshot_interval_seconds"`
		ArchiveRotated          bool   `yaml:"archive_rotated"`
	} `yaml:"engine"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

var (
	configFile   string
	globalEngine *engine.Engine
)

// BuildCLI assembles the root "queue" command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "queue",
		Short: "A crash-recoverable priority job queue",
		Long: `queue is a single-process job-scheduling engine with:
- WAL-based durability
- Snapshot-based recovery
- Named resource limiting
- Recurring and scheduled jobs
- Prometheus metrics`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildPutCommand())
	rootCmd.AddCommand(buildPopCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func engineConfigFrom(cfg *Config) engine.Config {
	return engine.Config{
		WALPath:          cfg.Engine.WALPath,
		SnapshotPath:     cfg.Engine.SnapshotPath,
		WALBufferSize:    cfg.Engine.WALBufferSize,
		WALFlushInterval: time.Duration(cfg.Engine.WALFlushIntervalMs) * time.Millisecond,
		SnapshotInterval: time.Duration(cfg.Engine.SnapshotIntervalSeconds) * time.Second,
		ArchiveRotated:   cfg.Engine.ArchiveRotated,
	}
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the queue engine and block until shutdown",
		Long:  "Recovers from the last snapshot and WAL, then serves until SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem()
		},
	}
	return cmd
}

func runSystem() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("starting queue engine with config: %s\n", configFile)

	e, err := engine.Open(engineConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	globalEngine = e

	if cfg.Metrics.Enabled {
		go func() {
			log.Printf("starting metrics server on :%d\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Printf("metrics server error: %v\n", err)
			}
		}()
	}

	log.Println("queue engine started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("received shutdown signal, stopping gracefully...")

	if err := e.Close(); err != nil {
		return fmt.Errorf("failed to close engine cleanly: %w", err)
	}

	log.Println("queue engine stopped")
	return nil
}

func buildPutCommand() *cobra.Command {
	var jobFile string

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Put jobs from a JSON file onto their queues",
		Long:  "Read an array of job definitions from a JSON file and put each onto its queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobFile == "" {
				return fmt.Errorf("job file is required (use --file or -f)")
			}
			return putJobs(jobFile)
		},
	}

	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "JSON file containing job definitions")
	cmd.MarkFlagRequired("file")

	return cmd
}

type jobInput struct {
	Queue     string   `json:"queue"`
	Jid       string   `json:"jid"`
	Klass     string   `json:"klass"`
	Data      string   `json:"data"`
	Delay     int64    `json:"delay"`
	Priority  *int     `json:"priority,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

func putJobs(filePath string) error {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read job file: %w", err)
	}

	var jobs []jobInput
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return fmt.Errorf("failed to parse job file: %w", err)
	}

	e, err := openLocalEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	now := time.Now().Unix()
	submitted := 0
	for _, j := range jobs {
		args, err := json.Marshal(j)
		if err != nil {
			log.Printf("failed to encode job %s: %v\n", j.Jid, err)
			continue
		}
		if _, err := e.Execute(now, "put", args); err != nil {
			log.Printf("failed to put job %s: %v\n", j.Jid, err)
			continue
		}
		submitted++
	}

	log.Printf("put %d/%d jobs from %s\n", submitted, len(jobs), filePath)
	return nil
}

func buildPopCommand() *cobra.Command {
	var queue, worker string
	var count int

	cmd := &cobra.Command{
		Use:   "pop",
		Short: "Pop jobs from a queue and print them as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if queue == "" {
				return fmt.Errorf("queue is required (use --queue or -q)")
			}
			return popJobs(queue, worker, count)
		},
	}

	cmd.Flags().StringVarP(&queue, "queue", "q", "", "queue to pop from")
	cmd.Flags().StringVarP(&worker, "worker", "w", "cli-worker", "worker name to assign popped jobs to")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "maximum number of jobs to pop")
	cmd.MarkFlagRequired("queue")

	return cmd
}

func popJobs(queue, worker string, count int) error {
	e, err := openLocalEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	now := time.Now().Unix()
	jobs := e.Scheduler().Pop(now, queue, worker, count)

	out, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode popped jobs: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue statistics",
		Long:  "Display per-queue job counts after recovering engine state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	e := globalEngine
	if e == nil {
		var err error
		e, err = openLocalEngine()
		if err != nil {
			return err
		}
		defer e.Close()
	}

	fmt.Println("\n=== Queue Engine Status ===")
	fmt.Printf("config file:      %s\n", configFile)
	fmt.Printf("wal path:         %s\n", cfg.Engine.WALPath)
	fmt.Printf("snapshot path:    %s\n", cfg.Engine.SnapshotPath)
	fmt.Println()

	now := time.Now().Unix()
	queues := e.Scheduler().Queues(now)
	if len(queues) == 0 {
		fmt.Println("no queues with jobs")
	} else {
		fmt.Println("queues:")
		for _, q := range queues {
			fmt.Printf("  - %-20s waiting=%-6d scheduled=%-6d depends=%-6d running=%-6d paused=%v\n",
				q.Name, q.Waiting, q.Scheduled, q.Depends, q.Running, q.Paused)
		}
	}
	fmt.Println()

	if cfg.Metrics.Enabled {
		fmt.Printf("metrics: enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("metrics: disabled")
	}
	return nil
}

// openLocalEngine opens a one-shot Engine against the configured paths, for
// CLI invocations (put, pop, status) that run as a separate process from `run`.
func openLocalEngine() (*engine.Engine, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	e, err := engine.Open(engineConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return e, nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}

