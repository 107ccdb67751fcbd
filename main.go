package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cnosuke/youtube-video-snippet/config"
	"github.com/cnosuke/youtube-video-snippet/job"
	"github.com/cnosuke/youtube-video-snippet/logger"
	"github.com/cockroachdb/errors"
	"github.com/k0kubun/pp/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	// Set by -ldflags at build time
	Version  = "0.1.0"
	Revision = "xxx"
)

const (
	AppName  = "youtube-video-snippet"
	AppUsage = "Collect YouTube video snippets for videos referenced in the social media dataset"
)

func main() {
	app := &cli.App{
		Name:    AppName,
		Usage:   AppUsage,
		Version: fmt.Sprintf("%s (%s)", Version, Revision),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yml",
				Usage:   "path to the configuration file",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: runCommand,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "discover pending videos, fetch their snippets, publish and register the batch",
				Action: runCommand,
			},
			{
				Name:  "discover",
				Usage: "count the videos that would be fetched by the next run",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dump",
						Usage: "print every pending identifier",
					},
				},
				Action: discoverCommand,
			},
			{
				Name:   "register",
				Usage:  "recreate the output table over everything published so far",
				Action: registerCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hints := errors.FlattenHints(err); hints != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hints)
		}
		os.Exit(1)
	}
}

// setup loads the configuration and installs the global logger.
func setup(c *cli.Context) (*config.Config, func(), error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if c.Bool("debug") {
		level = "debug"
	}
	l, err := logger.InitLogger(level, cfg.Log.File)
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() { _ = l.Sync() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCommand(c *cli.Context) error {
	cfg, sync, err := setup(c)
	if err != nil {
		return err
	}
	defer sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	return job.Run(ctx, cfg, AppName, Version, Revision)
}

func discoverCommand(c *cli.Context) error {
	cfg, sync, err := setup(c)
	if err != nil {
		return err
	}
	defer sync()

	if err := cfg.ValidateBackends(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	j, err := job.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	pending, count, err := j.Discover(ctx)
	if err != nil {
		return err
	}
	zap.S().Infow("pending videos", "count", count)
	if c.Bool("dump") {
		pp.Println(pending)
	}
	fmt.Println(count)
	return nil
}

func registerCommand(c *cli.Context) error {
	cfg, sync, err := setup(c)
	if err != nil {
		return err
	}
	defer sync()

	if err := cfg.ValidateBackends(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	j, err := job.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	return j.Register(ctx)
}
