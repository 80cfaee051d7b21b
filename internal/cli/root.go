// Package cli holds the vcm command tree.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"votechain.mini/vcm/internal/config"
	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/logger"
	"votechain.mini/vcm/internal/polls"
	"votechain.mini/vcm/internal/pow"
	"votechain.mini/vcm/internal/store"
	"votechain.mini/vcm/internal/types"
)

// Globals
var (
	configFile   string
	dataDir      string
	storeBackend string
	storePath    string
)

var rootCmd = &cobra.Command{
	Use:           "vcm",
	Version:       types.Version,
	Short:         "vcm - a tamper-evident vote ledger",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the command tree.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to the JSON config file (default $"+config.EnvConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for chain data, overrides data_dir")
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "", "store backend: sqlite, leveldb, file or memory")
	rootCmd.PersistentFlags().StringVar(&storePath, "store-path", "", "store location, overrides store_path")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if storeBackend != "" {
		cfg.StoreBackend = storeBackend
	}
	if storePath != "" {
		cfg.StorePath = storePath
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log := logger.New(200)
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	return log, nil
}

func openStore(cfg *config.Config) (store.Backend, error) {
	return store.Open(cfg.StoreBackend, cfg.DataDir, cfg.StorePath)
}

// env is everything a command needs to work with the chain.
type env struct {
	cfg    *config.Config
	log    *logger.Logger
	store  store.Backend
	ledger *ledger.Ledger
	polls  *polls.Registry
}

func (e *env) Close() error {
	return e.store.Close()
}

// openEnv opens the store, loads (or creates) the chain and the polls.
// onSeal may be nil.
func openEnv(ctx context.Context, onSeal func(types.Block)) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	opts := ledger.Options{
		Difficulty:   cfg.DifficultyValue(),
		BatchSize:    cfg.BatchSize,
		SolveTimeout: cfg.SolveTimeoutDuration(),
		OnSeal:       onSeal,
		Logger:       log,
	}
	l, err := ledger.New(ctx, backend, opts)
	if err != nil {
		backend.Close()
		return nil, err
	}

	reg, err := polls.NewRegistry(ctx, backend, log)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &env{cfg: cfg, log: log, store: backend, ledger: l, polls: reg}, nil
}

// openChain loads the stored blocks without validating or creating them,
// for the audit commands.
func openChain(ctx context.Context) (*config.Config, store.Backend, []types.Block, *pow.Work, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	work, err := pow.New(cfg.DifficultyValue())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	backend, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	blocks, err := backend.Load(ctx)
	if err != nil {
		backend.Close()
		return nil, nil, nil, nil, fmt.Errorf("load chain: %w", err)
	}
	return cfg, backend, blocks, work, nil
}
