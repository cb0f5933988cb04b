package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/chain"
	"github.com/polymesh-project/prism/chain/indexer"
	"github.com/polymesh-project/prism/config"
	"github.com/polymesh-project/prism/lens"
	"github.com/polymesh-project/prism/schedule"
	"github.com/polymesh-project/prism/storage"
	identitytask "github.com/polymesh-project/prism/tasks/identity"
	"github.com/polymesh-project/prism/tasks/msig"
	portfoliotask "github.com/polymesh-project/prism/tasks/portfolio"
	settlementtask "github.com/polymesh-project/prism/tasks/settlement"
)

type daemonOpts struct {
	config  string
	storage string
}

var daemonFlags daemonOpts

var daemonCmd = &cli.Command{
	Name:  "daemon",
	Usage: "Start the prism daemon: project chain events into the database.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Specify path of config file to use.",
			EnvVars:     []string{"PRISM_CONFIG"},
			Value:       "./config.toml",
			Destination: &daemonFlags.config,
		},
		&cli.StringFlag{
			Name:        "storage",
			Usage:       "Name of the storage entry in the config to write to.",
			EnvVars:     []string{"PRISM_STORAGE"},
			Value:       "Database1",
			Destination: &daemonFlags.storage,
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := setupLogging(LogFlags); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}
		if err := setupMetrics(MetricFlags); err != nil {
			return xerrors.Errorf("setup metrics: %w", err)
		}
		if err := setupTracing(ctx, TracingFlags); err != nil {
			return xerrors.Errorf("setup tracing: %w", err)
		}

		cfg, err := config.FromFile(daemonFlags.config)
		if err != nil {
			return xerrors.Errorf("load config: %w", err)
		}
		format, err := chain.ParseFormat(cfg.Indexer.Format)
		if err != nil {
			return err
		}

		sc, err := cfg.Database(daemonFlags.storage)
		if err != nil {
			return err
		}
		db, err := storage.NewDatabase(ctx, sc.URL, sc.PoolSize, sc.ApplicationName)
		if err != nil {
			return xerrors.Errorf("open database: %w", err)
		}
		defer db.Close() //nolint:errcheck

		api, closer, err := lens.NewRPCClient(ctx, cfg.Lens.Address, time.Duration(cfg.Lens.Timeout))
		if err != nil {
			return err
		}
		defer closer()

		dispatcher := indexer.NewDispatcher()
		identities := identitytask.NewProjector()
		portfolios := portfoliotask.NewProjector()
		identities.Register(dispatcher)
		portfolios.Register(dispatcher)
		settlementtask.NewProjector(identities, portfolios).Register(dispatcher)
		msig.NewProjector(identities).Register(dispatcher)

		processor := indexer.NewBlockProcessor(dispatcher, db, cfg.Indexer.Workers)
		defer processor.Close()

		jobs := []*schedule.JobConfig{
			{
				Name:             "watcher",
				Tasks:            []string{"identity", "portfolio", "settlement", "multiSig"},
				Job:              indexer.NewWatcher(api, processor, format),
				RestartOnFailure: true,
				RestartDelay:     30 * time.Second,
			},
		}
		if interval := time.Duration(cfg.Indexer.ReconcileInterval); interval > 0 {
			reconciler := msig.NewReconciler(db, api)
			jobs = append(jobs, &schedule.JobConfig{
				Name:             "reconciler",
				Tasks:            []string{"multiSig"},
				Job:              msig.NewReconcileJob(reconciler, interval),
				RestartOnFailure: true,
				RestartDelay:     interval,
			})
		}

		scheduler := schedule.NewScheduler(0, jobs...)
		err = scheduler.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
