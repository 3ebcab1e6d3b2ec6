package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/cli/dataagent"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := dataagent.Run(ctx, os.Args[1:], dataagent.Options{
		Lookup: os.LookupEnv,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
