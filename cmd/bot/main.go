package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"AlphaDrop/internal/config"
	"AlphaDrop/internal/engine"
	"AlphaDrop/internal/metrics"
	"AlphaDrop/internal/model"
	"AlphaDrop/internal/store"
	"AlphaDrop/internal/strategy"
)

const programName = "alphadrop"

var (
	configFile string
	cfg        *config.Config
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Drop coordination bot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context())
		},
	}

	defaultPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultPath, "path to config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation: %w", err)
		}
		setupLogging(cfg)
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(rankCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Printf("[FATAL] %v", err)
		os.Exit(1)
	}
}

// setupLogging tees the standard logger into a rotated file when configured.
func setupLogging(cfg *config.Config) {
	if cfg.Logging.File == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
		log.Printf("[WARN] create log dir: %v", err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   true,
	}))
}

// openStore opens the SQLite store, falling back to memory when it cannot.
func openStore(cfg *config.Config) store.Store {
	path := cfg.Database.SQLitePath
	if path == "" {
		log.Println("[WARN] no sqlite path configured, state is kept in memory only")
		return store.NewMemoryStore()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("[WARN] create data dir failed, using memory store: %v", err)
		return store.NewMemoryStore()
	}
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		log.Printf("[WARN] init sqlite store failed, using memory store: %v", err)
		return store.NewMemoryStore()
	}
	log.Printf("[INFO] sqlite store: %s", path)
	return st
}

func engineOptions(cfg *config.Config) (engine.Options, error) {
	signal, err := strategy.ParseRotationSignal(cfg.Engine.RotationSignal)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Location:       cfg.Location(),
		DefaultRate:    cfg.Engine.DefaultRate,
		MinRate:        cfg.Engine.MinRate,
		MaxRate:        cfg.Engine.MaxRate,
		MaxSlots:       cfg.Engine.MaxSlots,
		ReserveGate:    cfg.Engine.ReserveGate,
		PastTolerance:  cfg.Engine.PastTolerance,
		RotationSignal: signal,
		StaleAfter:     cfg.Engine.StaleAfter,
		Audience:       model.Audience{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
	}, nil
}

func newEngine(st store.Store, sink engine.Notifier, m *metrics.Metrics) (*engine.Engine, error) {
	opts, err := engineOptions(cfg)
	if err != nil {
		return nil, err
	}
	return engine.New(st, engine.SystemClock, sink, m, opts), nil
}
