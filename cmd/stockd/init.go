package main

import (
	"context"
	"fmt"

	"github.com/marmos91/stockd/pkg/config"
)

// InitCmd is 'stockd init'. It writes to --config when given, otherwise to
// the default location.
type InitCmd struct {
	Force bool `short:"f" help:"Overwrite an existing config file."`
}

func (c *InitCmd) Run(ctx context.Context) error {
	path := RootCmd.Config
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if err := config.InitConfigToPath(path, c.Force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}
