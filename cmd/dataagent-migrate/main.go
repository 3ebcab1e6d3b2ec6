package main

import (
	"context"
	"os"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/cli/dataagent"
)

// dataagent-migrate is "dataagent migrate" as a standalone binary for
// deployment jobs.
func main() {
	args := append([]string{"migrate"}, os.Args[1:]...)
	os.Exit(dataagent.Run(context.Background(), args, dataagent.Options{
		ServiceName: "dataagent-migrate",
		Lookup:      os.LookupEnv,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}))
}
