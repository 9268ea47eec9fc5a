package main

import (
	"context"
	"fmt"
)

// VersionCmd is 'stockd version'.
type VersionCmd struct{}

func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Println("stockd", version)
	return nil
}
