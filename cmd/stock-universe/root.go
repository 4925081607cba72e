package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"stockuniverse/internal/config"
	"stockuniverse/internal/gather"
	"stockuniverse/internal/metrics"
	"stockuniverse/internal/store"
	"stockuniverse/internal/util"
)

const defaultConfigPath = "config/stock-universe.yaml"

// app holds what every subcommand shares for one invocation.
type app struct {
	cfgFile string
	dateStr string
	force   bool

	cfg     *config.Config
	log     *slog.Logger
	runID   string
	rec     *metrics.Recorder
	objects store.ObjectStore
	closers []io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "stock-universe",
		Short: "Daily US stock universe gatherer",
		Long: `Daily US stock universe gatherer.

Downloads the listed universe, fetches quotes, fundamentals and end-of-day
prices in bounded concurrent batches, and joins prices with cached quarterly
outstanding shares to compute market capitalization.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd.Context()) },
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default $STOCK_UNIVERSE_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&a.dateStr, "date", "", "trading day YYYY-MM-DD (default: latest finished session)")
	root.PersistentFlags().BoolVar(&a.force, "force", false, "rewrite artifacts that already exist")

	root.AddCommand(
		a.universeCmd(),
		a.datasetCmd(store.DatasetQuotes, "Fetch quote snapshots for the listed universe"),
		a.datasetCmd(store.DatasetFundamentals, "Fetch fundamentals for the listed universe"),
		a.datasetCmd(store.DatasetPrices, "Fetch end-of-day prices for the listed universe"),
		a.marketCapCmd(),
		a.sharesCmd(),
	)
	return root
}

// setup loads .env and the config file, then builds the logger, metrics and
// object store.
func (a *app) setup(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	path := a.cfgFile
	if path == "" {
		path = defaultConfigPath
		if p := os.Getenv("STOCK_UNIVERSE_CONFIG"); p != "" {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	a.runID = uuid.NewString()
	a.log = util.NewLogger(cfg.Logging.Options()).With("run", a.runID)
	util.SetDefault(a.log)

	a.rec = metrics.New()

	a.objects, err = openObjects(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	return nil
}

// run executes g, pushes the run's metrics and releases resources.
func (a *app) run(ctx context.Context, gs ...gather.Gatherer) error {
	defer a.close()

	start := time.Now()
	var runErr error
	for _, g := range gs {
		a.log.Info("gatherer starting", "gatherer", g.Name())
		if err := g.Run(ctx); err != nil {
			runErr = fmt.Errorf("%s: %w", g.Name(), err)
			break
		}
	}
	if runErr != nil {
		a.log.Error("run failed", "err", runErr, "elapsed", time.Since(start).Round(time.Second))
	} else {
		a.log.Info("run complete", "elapsed", time.Since(start).Round(time.Second))
	}

	// The run context may already be cancelled; the push gets its own.
	pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.rec.Push(pushCtx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, a.runID); err != nil {
		a.log.Warn("metrics push failed", "err", err)
	}
	return runErr
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}

// date returns the --date flag, or the latest finished trading session.
func (a *app) date() (time.Time, error) {
	if a.dateStr != "" {
		return parseDate("date", a.dateStr)
	}
	cal, err := a.calendar()
	if err != nil {
		return time.Time{}, err
	}
	d, err := cal.LatestSession(time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("resolving latest session: %w", err)
	}
	a.log.Info("using latest session", "date", d.Format("2006-01-02"))
	return d, nil
}

func parseDate(flag, s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: --%s %q is not YYYY-MM-DD", gather.ErrInvalidInput, flag, s)
	}
	return t, nil
}
