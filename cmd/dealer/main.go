// Package main starts the dealer daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	dealercmd "github.com/louisbranch/housedealer/internal/cmd/dealer"
	"github.com/louisbranch/housedealer/internal/platform/config"
)

func main() {
	cfg, err := dealercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dealercmd.Run(ctx, cfg); err != nil {
		config.Exitf("failed to serve: %v", err)
	}
}
