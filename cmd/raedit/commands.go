package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/scott-cotton/cli"
)

type MainConfig struct {
	Dir     string `cli:"name=C desc='working copy directory (default .)'"`
	Verbose bool   `cli:"name=v aliases=verbose desc='log protocol activity'"`
	Color   bool   `cli:"name=color desc='color status output'"`

	Main *cli.Command
}

func MainCommand() *cli.Command {
	cfg := &MainConfig{Dir: "."}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Main, "raedit").
		WithSynopsis("raedit [opts] command [opts]").
		WithDescription("raedit keeps working copies in sync with a tuple protocol server.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return raMain(cfg, cc, args)
		}).
		WithSubs(
			CheckoutCommand(cfg),
			UpdateCommand(cfg),
			CommitCommand(cfg),
			AddCommand(cfg),
			DeleteCommand(cfg),
			StatusCommand(cfg),
			CrawlCommand(cfg),
			ServeCommand(cfg))
}

func raMain(cfg *MainConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}
	return err
}

// logger writes to stderr, without timestamps.
func (cfg *MainConfig) logger() *slog.Logger {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// colors reports whether output to cc should be colored.
func (cfg *MainConfig) colors(cc *cli.Context) bool {
	if cfg.Color {
		color.NoColor = false
		return true
	}
	f, ok := cc.Out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}
