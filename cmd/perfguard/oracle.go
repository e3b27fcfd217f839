package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/sawpanic/perfguard/internal/accounts"
	"github.com/sawpanic/perfguard/internal/detector"
	"github.com/sawpanic/perfguard/internal/infrastructure/db"
)

// statusFlags are shared by fit and predict
func statusFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	fs.String("statuses", "", "CSV of player,status used instead of the account API")
	fs.String("redis-addr", "", "Redis address for the shared status cache (overrides config)")
	fs.Bool("db", false, "Also read/write the model in Postgres")
	return fs
}

// newOracle builds the account status oracle. With a statuses file the file is
// the only source; otherwise statuses come from the account API. The cache is
// Redis when an address is configured.
func (a *app) newOracle(fs *pflag.FlagSet) (*accounts.Oracle, func(), error) {
	statusesPath, _ := fs.GetString("statuses")
	redisCfg := a.cfg.Redis
	if addr, _ := fs.GetString("redis-addr"); addr != "" {
		redisCfg.Addr = addr
	}

	var lookup accounts.Lookup
	if statusesPath != "" {
		table, err := accounts.LoadStatusFile(statusesPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("file", statusesPath).Int("players", len(table)).Msg("using static account statuses")
		lookup = table
	} else {
		client, err := accounts.NewHTTPLookup(a.cfg.Accounts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create account client: %w", err)
		}
		lookup = client
	}

	cache := accounts.NewCacheAuto(redisCfg)
	closeFn := func() {}
	if closer, ok := cache.(io.Closer); ok {
		closeFn = func() {
			if err := closer.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close status cache")
			}
		}
	}
	if redisCfg.Addr != "" {
		log.Info().Str("addr", redisCfg.Addr).Msg("using redis status cache")
	}

	oracle := accounts.NewOracle(lookup, accounts.WithCache(cache), accounts.WithRecorder(a.metrics))
	return oracle, closeFn, nil
}

// seedStatuses copies a statuses file into the oracle cache so predictions can
// report account status without any lookup
func seedStatuses(ctx context.Context, oracle *accounts.Oracle, path string) error {
	table, err := accounts.LoadStatusFile(path)
	if err != nil {
		return err
	}
	for player, status := range table {
		if err := oracle.Seed(ctx, player, status); err != nil {
			return fmt.Errorf("failed to seed status for %s: %w", player, err)
		}
	}
	return nil
}

// openDatabase connects and migrates when --db is set; it returns nil otherwise
func (a *app) openDatabase(ctx context.Context, fs *pflag.FlagSet) (*db.Manager, error) {
	useDB, _ := fs.GetBool("db")
	if !useDB {
		return nil, nil
	}

	cfg := a.cfg.Database
	cfg.Enabled = true
	manager, err := db.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	if err := manager.Migrate(ctx); err != nil {
		manager.Close()
		return nil, err
	}
	return manager, nil
}

func (a *app) modelOptions() []detector.Option {
	return []detector.Option{
		detector.WithRecorder(a.metrics),
		detector.WithDefaultThreshold(a.cfg.Model.DefaultThreshold),
	}
}
