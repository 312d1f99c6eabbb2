package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "uvmreg"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run the UVM regression against the Spike golden reference",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Run the full regression: discover, build, co-simulate, classify, report",
		Action: app.run,
		Flags:  runFlags(),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list-targets",
		Usage:  "Print discovered targets and exit without building or running",
		Action: app.listTargets,
		Flags:  discoveryFlags(),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "check-spike-timeouts",
		Usage:  "Run only Spike trace generation to surface targets needing a denylist entry",
		Action: app.checkSpikeTimeouts,
		Flags:  runFlags(),
	})
	// Default action when no command is specified
	app.cli.Action = app.run
	app.cli.Flags = append(app.cli.Flags, runFlags()...)
	return app
}

func discoveryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Limit number of tests",
		},
		&cli.StringFlag{
			Name:  "target",
			Usage: "Run a single target, bypassing discovery filters",
		},
		&cli.StringFlag{
			Name:  "policy",
			Usage: "YAML file overriding the built-in denylist/timeout tables",
		},
	}
}

func runFlags() []cli.Flag {
	flags := discoveryFlags()
	flags = append(flags,
		&cli.BoolFlag{
			Name:  "skip-riscv-tests",
			Usage: "Skip the pre-packaged riscv-tests suite",
		},
		&cli.StringFlag{
			Name:  "mpact-root",
			Usage: "Path to MPACT root directory (overrides CORALNPU_MPACT env var)",
		},
		&cli.StringFlag{
			Name:  "mpact-riscv-root",
			Usage: "Path to MPACT RISCV directory (overrides CORALNPU_MPACT_RISCV env var)",
		},
		&cli.StringFlag{
			Name:  "mpact-commit",
			Usage: "Git commit hash to checkout for MPACT root",
		},
		&cli.StringFlag{
			Name:  "mpact-riscv-commit",
			Usage: "Git commit hash to checkout for MPACT RISCV root",
		},
		&cli.StringFlag{
			Name:  "output-dir",
			Usage: "Report/logs directory (default: uvm_regression_<timestamp>)",
		},
		&cli.BoolFlag{
			Name:  "keep-work",
			Usage: "Keep the per-run working directory (don't clean up after the run)",
		},
	)
	return flags
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
