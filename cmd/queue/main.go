// Command queue is the entry point for the job-scheduling engine: it
// builds the Cobra command tree (run/put/pop/status) and executes it. Adapted
// from the teacher's cmd/queue/main.go, which did the same for its own
// Controller-backed CLI — build-time version injection via ldflags and a
// top-level panic recovery guard are unchanged.
package main

import (
	"fmt"
	"os"

	"github.com/chuliyu/beaverq/internal/cli"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
