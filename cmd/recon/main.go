package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"recon_automation/backfill"
	"recon_automation/internal/app"
	"recon_automation/internal/config"
	"recon_automation/internal/logging"
	"recon_automation/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if err := newCLI().RunContext(ctx, os.Args); err != nil {
		log.Fatalf("recon: %v", err)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "recon",
		Usage: "load delivery reports and reconcile chart indicators",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "config file path", EnvVars: []string{"RECON_CONFIG_PATH"}},
		},
		Before: func(c *cli.Context) error {
			if p := c.String("config"); p != "" {
				return os.Setenv("RECON_CONFIG_PATH", p)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "watch",
				Usage: "watch the input area of one process",
				Subcommands: []*cli.Command{
					{Name: "load", Usage: "load daily reports", Action: watchAction(config.ProcessLoad)},
					{Name: "update", Usage: "reconcile on trigger files", Action: watchAction(config.ProcessUpdate)},
				},
			},
			{
				Name:  "serve",
				Usage: "run both watchers and the ops HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "http", Usage: "ops listen port (overrides HTTP_PORT)"},
				},
				Action: serveAction,
			},
			{
				Name:  "replay",
				Usage: "reload every staged report oldest first",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "resume", Usage: "skip the reset and reports already archived"},
					&cli.BoolFlag{Name: "keep-archive", Usage: "leave input_archive populated afterwards"},
					&cli.BoolFlag{Name: "refresh-staging", Usage: "copy vendor reports into staging first"},
					&cli.IntFlag{Name: "limit", Usage: "replay at most n reports"},
				},
				Action: replayAction,
			},
			{
				Name:  "reset",
				Usage: "clear processing areas; for load also refresh staging and empty the tables",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "process", Value: "all", Usage: "load, update or all"},
				},
				Action: resetAction,
			},
		},
	}
}

func setup(c *cli.Context) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if c.IsSet("http") {
		cfg.HTTPPort = ":" + c.String("http")
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(c.Context, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}

func watchAction(process string) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, logger, err := setup(c)
		if err != nil {
			return err
		}
		defer a.Close()
		defer logger.Sync()
		return a.Watch(c.Context, process)
	}
}

func serveAction(c *cli.Context) error {
	a, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()
	defer logger.Sync()
	cfg := a.Config()
	return a.Watch(c.Context, cfg.Load.Name, cfg.Update.Name)
}

func replayAction(c *cli.Context) error {
	a, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()
	defer logger.Sync()

	opts := pipeline.ReplayOptions{
		Resume:      c.Bool("resume"),
		KeepArchive: c.Bool("keep-archive"),
		Limit:       c.Int("limit"),
	}
	if c.Bool("refresh-staging") {
		n, err := a.RefreshStaging()
		if err != nil {
			return err
		}
		fmt.Printf("%s %d reports staged\n", color.CyanString("staging"), n)
	}
	pending, err := a.Replayer().Pending(c.Context, opts)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println(color.YellowString("nothing to replay"))
		return nil
	}

	bar := pb.StartNew(len(pending))
	summary, err := a.Replay(c.Context, opts, false, func(backfill.Record) { bar.Increment() })
	bar.Finish()
	if err != nil {
		fmt.Printf("%s %s: %v\n", color.RedString("failed"), summary.FailedFile, err)
		return cli.Exit("", 1)
	}
	fmt.Printf("%s %d reports loaded (%d already archived)\n",
		color.GreenString("done"), summary.Loaded, summary.AlreadyProcessed)
	return nil
}

func resetAction(c *cli.Context) error {
	a, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()
	defer logger.Sync()

	cfg := a.Config()
	var processes []string
	switch c.String("process") {
	case "all":
		processes = []string{cfg.Load.Name, cfg.Update.Name}
	case "load":
		processes = []string{cfg.Load.Name}
	case "update":
		processes = []string{cfg.Update.Name}
	default:
		return cli.Exit(fmt.Sprintf("unknown process %q", c.String("process")), 2)
	}
	for _, p := range processes {
		n, err := a.Reset(c.Context, p)
		if err != nil {
			fmt.Printf("%s %s: %v\n", color.RedString("reset failed"), p, err)
			return cli.Exit("", 1)
		}
		if p == cfg.Load.Name {
			fmt.Printf("%s %s (%d reports staged)\n", color.GreenString("reset"), p, n)
			continue
		}
		fmt.Printf("%s %s\n", color.GreenString("reset"), p)
	}
	return nil
}
