package commands

import (
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/chain/indexer"
	"github.com/polymesh-project/prism/config"
	"github.com/polymesh-project/prism/genesis"
	"github.com/polymesh-project/prism/lens"
	"github.com/polymesh-project/prism/storage"
	identitytask "github.com/polymesh-project/prism/tasks/identity"
	"github.com/polymesh-project/prism/tasks/msig"
	portfoliotask "github.com/polymesh-project/prism/tasks/portfolio"
)

type seedOpts struct {
	config  string
	storage string
}

var seedFlags seedOpts

var seedCmd = &cli.Command{
	Name:  "seed",
	Usage: "Seed the database with the genesis identities and multisigs.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Specify path of config file to use.",
			EnvVars:     []string{"PRISM_CONFIG"},
			Value:       "./config.toml",
			Destination: &seedFlags.config,
		},
		&cli.StringFlag{
			Name:        "storage",
			Usage:       "Name of the storage entry in the config to write to.",
			EnvVars:     []string{"PRISM_STORAGE"},
			Value:       "Database1",
			Destination: &seedFlags.storage,
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context

		if err := setupLogging(LogFlags); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}

		cfg, err := config.FromFile(seedFlags.config)
		if err != nil {
			return xerrors.Errorf("load config: %w", err)
		}
		sc, err := cfg.Database(seedFlags.storage)
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
		identities.Register(dispatcher)
		portfoliotask.NewProjector().Register(dispatcher)
		msig.NewProjector(identities).Register(dispatcher)

		return genesis.NewSeeder(api, db, dispatcher).Seed(ctx)
	},
}
