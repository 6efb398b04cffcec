package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "watchtower",
		Usage: "Route threat-intel channels and feeds to your alert destinations",
		Commands: []*cli.Command{
			monitorHwd.cmd(),
			discoverHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}
