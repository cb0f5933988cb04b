package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/polymesh-project/prism/commands"
	"github.com/polymesh-project/prism/version"
)

var log = logging.Logger("prism")

func main() {
	if err := logging.SetLogLevel("*", "info"); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:    "prism",
		Usage:   "Polymesh Chain Projection Utility",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				EnvVars:     []string{"GOLOG_LOG_LEVEL"},
				Value:       "info",
				Usage:       "Set the default log level for all loggers to `LEVEL`",
				Destination: &commands.LogFlags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-level-named",
				EnvVars:     []string{"PRISM_LOG_LEVEL_NAMED"},
				Value:       "",
				Usage:       "A comma delimited list of named loggers and log levels formatted as name:level, for example 'logger1:debug,logger2:info'",
				Destination: &commands.LogFlags.LogLevelNamed,
			},
			&cli.BoolFlag{
				Name:        "tracing",
				EnvVars:     []string{"PRISM_TRACING"},
				Value:       false,
				Destination: &commands.TracingFlags.Enabled,
			},
			&cli.StringFlag{
				Name:        "tracing-endpoint",
				EnvVars:     []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
				Value:       "",
				Destination: &commands.TracingFlags.EndpointURL,
			},
			&cli.StringFlag{
				Name:        "tracing-service-name",
				EnvVars:     []string{"PRISM_TRACING_SERVICE_NAME"},
				Value:       "prism",
				Destination: &commands.TracingFlags.ServiceName,
			},
			&cli.StringFlag{
				Name:        "prometheus-port",
				EnvVars:     []string{"PRISM_PROMETHEUS_PORT"},
				Value:       ":9991",
				Destination: &commands.MetricFlags.PrometheusPort,
			},
		},
		Commands: commands.All,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
