package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wakala/hedger/internal/app"
	"github.com/wakala/hedger/internal/config"
	"github.com/wakala/hedger/internal/logger"
	"github.com/wakala/hedger/internal/repository"
)

var rootCmd = &cobra.Command{
	Use:   "hedger",
	Short: "FX exposure coverage and hedge recommendation engine",
	Long: `Hedger tracks foreign-currency payables and receivables, measures how much
of each is covered by executed forwards, and recommends hedges according
to layered coverage policies.

Settings come from the environment (a .env file is read when present).
The seed file named by SEED_FILE provides counterparties, policies and a
static rate sheet; without it a single USD default policy is installed.`,
	SilenceUsage: true,
}

var (
	dbPathFlag   string
	logLevelFlag string
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "SQLite path (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug|info|warn|error (overrides LOG_LEVEL)")
}

// env is the bootstrapped process: config, database and service graph.
type env struct {
	cfg *config.Config
	db  *sql.DB
	app *app.App
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbPathFlag != "" {
		cfg.DBPath = dbPathFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

func loadSeed(cfg *config.Config) (*config.Seed, error) {
	seed := config.DefaultSeed()
	if cfg.SeedFile != "" {
		s, err := config.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		seed = s
		if len(seed.MarketData.Spots) == 0 {
			seed.MarketData = config.DefaultSeed().MarketData
		}
	}
	if cfg.MarketDataFile != "" {
		sheet, err := config.LoadMarketFile(cfg.MarketDataFile)
		if err != nil {
			return nil, err
		}
		seed.MarketData = sheet
	}
	return seed, nil
}

// bootstrap opens the database, builds the services and applies the seed.
func bootstrap(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logger.L

	seed, err := loadSeed(cfg)
	if err != nil {
		return nil, err
	}

	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}

	sink, err := app.NewSink(ctx, cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	market := app.NewMarket(cfg, seed.MarketData, log)
	a := app.New(cfg, db, sink, market, log)

	res, err := a.ApplySeed(ctx, seed)
	if err != nil {
		sink.Close()
		db.Close()
		return nil, fmt.Errorf("apply seed: %w", err)
	}
	if res.Counterparties > 0 || res.Policies > 0 {
		log.Info("seed applied", "counterparties", res.Counterparties, "policies", res.Policies)
	}
	return &env{cfg: cfg, db: db, app: a}, nil
}

func (e *env) Close() {
	if err := e.app.Sink.Close(); err != nil {
		logger.L.Warn("close event sink", "error", err)
	}
	if err := e.db.Close(); err != nil {
		logger.L.Warn("close db", "error", err)
	}
}
