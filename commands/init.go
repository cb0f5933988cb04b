package commands

import (
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/polymesh-project/prism/config"
	"github.com/polymesh-project/prism/storage"
)

type initOpts struct {
	config  string
	storage string
}

var initFlags initOpts

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "Write a default config file if none exists and create the database schema.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Specify path of config file to use.",
			EnvVars:     []string{"PRISM_CONFIG"},
			Value:       "./config.toml",
			Destination: &initFlags.config,
		},
		&cli.StringFlag{
			Name:        "storage",
			Usage:       "Name of the storage entry in the config to initialize.",
			EnvVars:     []string{"PRISM_STORAGE"},
			Value:       "Database1",
			Destination: &initFlags.storage,
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context

		if err := setupLogging(LogFlags); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}

		if err := config.EnsureExists(initFlags.config); err != nil {
			return xerrors.Errorf("ensure config: %w", err)
		}
		cfg, err := config.FromFile(initFlags.config)
		if err != nil {
			return xerrors.Errorf("load config: %w", err)
		}

		sc, err := cfg.Database(initFlags.storage)
		if err != nil {
			return err
		}
		db, err := storage.NewDatabase(ctx, sc.URL, sc.PoolSize, sc.ApplicationName)
		if err != nil {
			return xerrors.Errorf("open database: %w", err)
		}
		defer db.Close() //nolint:errcheck

		return db.CreateSchema(ctx)
	},
}
