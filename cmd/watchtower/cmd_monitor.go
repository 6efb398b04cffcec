package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/watchtower-cti/watchtower/internal/config"
	"github.com/watchtower-cti/watchtower/internal/consts"
	"github.com/watchtower-cti/watchtower/internal/destination"
	"github.com/watchtower-cti/watchtower/internal/destination/discord"
	desttelegram "github.com/watchtower-cti/watchtower/internal/destination/telegram"
	"github.com/watchtower-cti/watchtower/internal/ocr"
	"github.com/watchtower-cti/watchtower/internal/pipeline"
	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
	"github.com/watchtower-cti/watchtower/internal/routing"
	"github.com/watchtower-cti/watchtower/internal/source/rss"
	srctelegram "github.com/watchtower-cti/watchtower/internal/source/telegram"
	"github.com/watchtower-cti/watchtower/internal/telegramapi"
)

var monitorHwd = &MonitorRunner{}

type MonitorRunner struct{}

func (r *MonitorRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Run the monitoring pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: consts.ConfigFileName,
				Usage: "path to the routing document",
			},
			&cli.StringFlag{
				Name:  "sources",
				Value: "all",
				Usage: "which sources to run: all, telegram or rss",
			},
		},
		Action: r.run,
	}
}

func (r *MonitorRunner) run(ctx context.Context, cmd *cli.Command) error {
	sources := cmd.String("sources")
	if sources != "all" && sources != "telegram" && sources != "rss" {
		return fmt.Errorf("invalid --sources value %q", sources)
	}
	runTelegram := sources == "all" || sources == "telegram"
	runRSS := sources == "all" || sources == "rss"

	cfgPath := cmd.String("config")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file %s does not exist", cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}
	if err = r.initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}
	consts.SetBaseDir(cfg.BaseDir())

	logs.CtxInfo(ctx, "booting watchtower, using config file: %s (hash %.12s)...", cfgPath, cfg.Hash())

	table := routing.BuildTable(cfg)
	router := routing.NewRouter(table)
	limiter := destination.NewRateLimiter()
	metrics := pipeline.NewMetrics(consts.MetricsFile())
	retry := pipeline.NewRetryQueue(metrics)

	// The chat binding is needed for the telegram source and for chat
	// destinations, even when only feeds are polled.
	var client *telegramapi.Client
	needTelegram := runTelegram
	for _, dst := range cfg.Destinations {
		if dst.Type == config.DestinationChat {
			needTelegram = true
		}
	}
	if needTelegram {
		creds, err := config.LoadTelegramCredentials()
		if err != nil {
			return err
		}
		client = telegramapi.NewClient(creds.APIID, creds.APIHash, consts.SessionFile())
	}

	dests := make(map[string]destination.Destination, len(cfg.Destinations))
	for _, dst := range cfg.Destinations {
		switch dst.Type {
		case config.DestinationWebhook:
			dests[dst.Name] = discord.New(dst.Name, dst.Endpoint, limiter)
		case config.DestinationChat:
			dests[dst.Name] = desttelegram.New(dst.Name, dst.Endpoint, client, limiter)
		}
	}

	orch := pipeline.NewOrchestrator(router, dests, retry, metrics, ocr.NewTesseract(), consts.AttachmentsDir())
	orch.PurgeAttachments()

	feedsEvery, err := scheduleInterval(cfg.Polling.Feeds)
	if err != nil {
		return fmt.Errorf("polling.feeds: %w", err)
	}
	gapEvery, err := scheduleInterval(cfg.Polling.GapRecovery)
	if err != nil {
		return fmt.Errorf("polling.gap_recovery: %w", err)
	}
	metricsEvery, err := scheduleInterval(cfg.Polling.Metrics)
	if err != nil {
		return fmt.Errorf("polling.metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	runBg := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}
	runBg(retry.Run)
	runBg(func(ctx context.Context) { metrics.Run(ctx, metricsEvery) })

	errCh := make(chan error, 1)

	var chatSource *srctelegram.Source
	if client != nil {
		if runTelegram {
			var ids []string
			for _, ch := range table.Channels() {
				ids = append(ids, ch.ID)
			}
			chatSource = srctelegram.NewSource(client, ids, orch.Handle, metrics, consts.TelegramLogDir(), gapEvery)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := client.Run(ctx, func(ctx context.Context) error {
				if chatSource != nil {
					chatSource.Bootstrap(ctx)
					runBg(chatSource.RunPolling)
				}
				return nil
			})
			if err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("telegram client: %w", err)
			}
		}()
	}

	if runRSS {
		if feeds := table.Feeds(); len(feeds) > 0 {
			feedSource := rss.NewSource(feeds, orch.Handle, consts.RSSLogDir(), feedsEvery)
			runBg(feedSource.Run)
		}
	}

	logs.CtxInfo(ctx, "ALL IS WELL!!! Press Ctrl+C to stop.")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var runErr error
	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "Received shutdown signal (%s). Stopping...", sig.String())
	case runErr = <-errCh:
		logs.CtxError(ctx, "%v. Stopping...", runErr)
	case <-ctx.Done():
		logs.CtxInfo(ctx, "Context canceled. Stopping...")
	}

	cancel()
	waitWithTimeout(&wg, 10*time.Second)

	if chatSource != nil {
		chatSource.Shutdown()
	}
	if err := metrics.Save(); err != nil {
		logs.Error("final metrics snapshot: %v", err)
	}

	logs.Info("all stopped, good bye!")
	return runErr
}

func (r *MonitorRunner) initLogger(cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	})
}

func scheduleInterval(expr string) (time.Duration, error) {
	sched, err := config.ParseSchedule(expr)
	if err != nil {
		return 0, err
	}
	return config.ScheduleInterval(sched), nil
}

func waitWithTimeout(wg *sync.WaitGroup, d time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		logs.Warn("[monitor] shutdown timed out after %s", d)
	}
}
