package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/watchtower-cti/watchtower/internal/config"
	"github.com/watchtower-cti/watchtower/internal/consts"
	"github.com/watchtower-cti/watchtower/internal/discover"
	"github.com/watchtower-cti/watchtower/internal/telegramapi"
)

var discoverHwd = &DiscoverRunner{}

type DiscoverRunner struct{}

func (r *DiscoverRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "List the chats the session can access",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: consts.ConfigFileName,
				Usage: "path to the routing document (used by --diff)",
			},
			&cli.BoolFlag{
				Name:  "diff",
				Usage: "compare accessible chats against the config",
			},
			&cli.StringFlag{
				Name:  "generate",
				Usage: "write a config skeleton covering every accessible chat to the given path",
			},
		},
		Action: r.run,
	}
}

func (r *DiscoverRunner) run(ctx context.Context, cmd *cli.Command) error {
	creds, err := config.LoadTelegramCredentials()
	if err != nil {
		return err
	}
	client := telegramapi.NewClient(creds.APIID, creds.APIHash, consts.SessionFile())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runErr error
	err = client.Run(ctx, func(ctx context.Context) error {
		runErr = r.discover(ctx, cmd, client)
		cancel()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return runErr
}

func (r *DiscoverRunner) discover(ctx context.Context, cmd *cli.Command, client *telegramapi.Client) error {
	d := discover.New(client)

	switch {
	case cmd.Bool("diff"):
		cfg, err := config.Load(cmd.String("config"))
		if err != nil {
			return fmt.Errorf("loading config error: %w", err)
		}
		report, err := d.Diff(ctx, cfg)
		if err != nil {
			return err
		}
		if len(report.Inaccessible) > 0 {
			fmt.Println("Configured but not accessible:")
			for _, id := range report.Inaccessible {
				fmt.Printf("  %s\n", id)
			}
		}
		if len(report.Unconfigured) > 0 {
			fmt.Println("Accessible but not configured:")
			for _, chat := range report.Unconfigured {
				printChat(chat)
			}
		}
		if len(report.Inaccessible) == 0 && len(report.Unconfigured) == 0 {
			fmt.Println("Config and accessible chats are in sync.")
		}
		return nil

	case cmd.String("generate") != "":
		path := cmd.String("generate")
		if err := d.Generate(ctx, path); err != nil {
			return err
		}
		fmt.Printf("Config skeleton written to %s\n", path)
		return nil

	default:
		dialogs, err := d.List(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Accessible chats (%d):\n", len(dialogs))
		for _, chat := range dialogs {
			printChat(chat)
		}
		return nil
	}
}

func printChat(chat *telegramapi.Chat) {
	if chat.Username != "" {
		fmt.Printf("  %s (@%s, id %d)\n", chat.Title, chat.Username, chat.ID)
	} else {
		fmt.Printf("  %s (id %d)\n", chat.Title, chat.ID)
	}
}
