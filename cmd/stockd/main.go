package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

// RootCmd is the stockd command line.
var RootCmd struct {
	Config  string     `short:"c" help:"Path to the config file (default: $XDG_CONFIG_HOME/stockd/config.yaml)." placeholder:"PATH" type:"path"`
	Start   StartCmd   `cmd:"" default:"1" help:"Start the trading server."`
	Init    InitCmd    `cmd:"" help:"Write a default config file."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name("stockd"),
		kong.Description("A small stock trading server.\n\nAccepts pipe-delimited commands over raw TCP or minimal HTTP."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	if err := kongCtx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "stockd: %v\n", err)
		os.Exit(1)
	}
}
