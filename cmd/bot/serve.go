package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"AlphaDrop/internal/bot"
	"AlphaDrop/internal/engine"
	"AlphaDrop/internal/httpapi"
	"AlphaDrop/internal/metrics"
	"AlphaDrop/internal/notifier"
	"AlphaDrop/internal/scheduler"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, scheduler and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context())
		},
	}
}

func serveRun(parent context.Context) error {
	log.Printf("[INFO] %s starting...", programName)
	if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
		log.Printf("[WARN] set GOMAXPROCS: %v", err)
	}
	if parent == nil {
		parent = context.Background()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	st := openStore(cfg)
	defer st.Close()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	var wg sync.WaitGroup

	var (
		tn   *notifier.TelegramNotifier
		sink engine.Notifier
	)
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, notifier.Options{
			QueueSize:         cfg.Notifier.QueueSize,
			MessagesPerSecond: cfg.Notifier.MessagesPerSecond,
			Burst:             cfg.Notifier.Burst,
			MaxRetries:        cfg.Notifier.MaxRetries,
		}, m)
		tn.ThreadID = cfg.Telegram.ThreadID
		sink = tn
		wg.Add(1)
		go func() {
			defer wg.Done()
			tn.Run(ctx)
		}()
	} else {
		log.Println("[WARN] telegram.bot_token not set, notifications disabled")
	}

	eng, err := newEngine(st, sink, m)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(ctx, eng, m, scheduler.PlanOptions{
		DefaultOffsets:  cfg.Schedule.DefaultOffsets,
		DayReminderHour: cfg.Schedule.DayReminderAt,
		SummaryDelay:    cfg.Schedule.SummaryDelay,
		Location:        cfg.Location(),
	})
	eng.SetTimers(sched)
	if err := sched.RegisterDaily(cfg.Schedule.DailyCron); err != nil {
		return err
	}
	n, err := sched.Rearm(ctx)
	if err != nil {
		return err
	}
	log.Printf("[INFO] re-armed %d scheduled drops", n)
	sched.Start()
	defer sched.Stop()

	if tn != nil && !cfg.Telegram.DisablePolling {
		b := bot.New(eng, tn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			tn.StartPolling(ctx, b.Handle)
		}()
		log.Println("[INFO] Telegram polling started")
	}

	if cfg.HTTP.Listen != "" {
		srv := httpapi.New(eng, registry)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.HTTP.Listen); err != nil {
				log.Printf("[ERROR] http server: %v", err)
			}
		}()
	}

	log.Printf("[INFO] %s is running. Press Ctrl+C to stop.", programName)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Println("[INFO] shutdown signal received, stopping...")
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
	log.Printf("[INFO] %s stopped", programName)
	return nil
}
