package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dj-oyu/spineguard/internal/cli"
	"github.com/dj-oyu/spineguard/internal/output"
)

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cli.NewRootCmd(&cli.Dependencies{}).ExecuteContext(ctx)
}
