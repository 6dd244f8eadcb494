package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/scott-cotton/cli"
	"github.com/signadot/raedit/client"
	"github.com/signadot/raedit/delta"
	"github.com/signadot/raedit/ra"
	"github.com/signadot/raedit/wc"
)

const dialTimeout = 10 * time.Second

type CheckoutConfig struct {
	*MainConfig
	Rev int `cli:"name=r aliases=revision desc='revision to check out (default head)'"`

	Checkout *cli.Command
}

func CheckoutCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &CheckoutConfig{MainConfig: mainCfg, Rev: -1}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Checkout, "checkout").
		WithAliases("co").
		WithSynopsis("checkout [-r rev] url [dir]").
		WithDescription("create a working copy of the repository at url").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return checkout(cfg, cc, args)
		})
}

func checkout(cfg *CheckoutConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Checkout.Parse(cc, args)
	if err != nil {
		return err
	}
	dir := cfg.Dir
	switch len(args) {
	case 1:
	case 2:
		dir = args[1]
	default:
		return fmt.Errorf("%w: checkout takes a url and an optional directory", cli.ErrUsage)
	}
	log := cfg.logger()
	w, err := wc.Init(dir, args[0], 0, &wc.Options{Log: log})
	if err != nil {
		return err
	}
	defer w.Close()
	c, err := dial(args[0], cfg.MainConfig)
	if err != nil {
		return err
	}
	defer c.Close()
	rev, err := c.Update(w, "", delta.Revnum(cfg.Rev), nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cc.Out, "Checked out revision %d.\n", rev)
	return nil
}

func dial(url string, cfg *MainConfig) (*client.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	c, err := client.Dial(ctx, url, &client.Options{Log: cfg.logger()})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return c, nil
}

// open opens the working copy and connects to its repository.
func open(cfg *MainConfig) (*wc.WC, *client.Client, error) {
	w, err := wc.Open(cfg.Dir, &wc.Options{Log: cfg.logger()})
	if err != nil {
		return nil, nil, err
	}
	top, err := w.Entry("")
	if err != nil {
		w.Close()
		return nil, nil, err
	}
	c, err := dial(top.URL, cfg)
	if err != nil {
		w.Close()
		return nil, nil, err
	}
	return w, c, nil
}

type UpdateConfig struct {
	*MainConfig
	Rev     int  `cli:"name=r aliases=revision desc='revision to update to (default head)'"`
	Restore bool `cli:"name=restore desc='restore missing files before updating'"`
	NoRec   bool `cli:"name=N aliases=non-recursive desc='do not descend into subdirectories'"`

	Update *cli.Command
}

func UpdateCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &UpdateConfig{MainConfig: mainCfg, Rev: -1}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Update, "update").
		WithAliases("up").
		WithSynopsis("update [-r rev] [-restore] [-N] [path]").
		WithDescription("bring the working copy, or path within it, to a revision").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return update(cfg, cc, args)
		})
}

func update(cfg *UpdateConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Update.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) > 1 {
		return fmt.Errorf("%w: update takes at most one path", cli.ErrUsage)
	}
	target := ""
	if len(args) == 1 {
		target = args[0]
	}
	w, c, err := open(cfg.MainConfig)
	if err != nil {
		return err
	}
	defer w.Close()
	defer c.Close()
	if target != "" {
		if target, err = w.Rel(target); err != nil {
			return err
		}
	}
	opts := &wc.CrawlOptions{
		RestoreFiles: cfg.Restore,
		Recurse:      !cfg.NoRec,
		Notify: func(n wc.Notification) {
			fmt.Fprintf(cc.Out, "Restored %s\n", n.Path)
		},
	}
	rev, err := c.Update(w, target, delta.Revnum(cfg.Rev), opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cc.Out, "At revision %d.\n", rev)
	return nil
}

type CommitConfig struct {
	*MainConfig
	Message string `cli:"name=m aliases=message desc='log message'"`
	Author  string `cli:"name=author desc='author recorded with the revision'"`

	Commit *cli.Command
}

func CommitCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &CommitConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Commit, "commit").
		WithAliases("ci").
		WithSynopsis("commit -m msg [-author name]").
		WithDescription("send local modifications to the repository").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return commit(cfg, cc, args)
		})
}

func commit(cfg *CommitConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Commit.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 0 {
		return fmt.Errorf("%w: commit takes no arguments", cli.ErrUsage)
	}
	w, c, err := open(cfg.MainConfig)
	if err != nil {
		return err
	}
	defer w.Close()
	defer c.Close()
	ci, items, err := c.Commit(w, cfg.Message, cfg.Author)
	if errors.Is(err, client.ErrNothingToCommit) {
		fmt.Fprintln(cc.Out, "Nothing to commit.")
		return nil
	}
	if err != nil {
		return err
	}
	for _, it := range items {
		fmt.Fprintf(cc.Out, "%s\n", statusLine(cfg.MainConfig, cc, it))
	}
	fmt.Fprintf(cc.Out, "Committed revision %d.\n", ci.Rev)
	return w.CleanupTmp()
}

type PathsConfig struct {
	*MainConfig

	Cmd *cli.Command
}

func AddCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &PathsConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Cmd, "add").
		WithSynopsis("add path...").
		WithDescription("schedule unversioned paths for addition").
		WithRun(func(cc *cli.Context, args []string) error {
			return eachPath(cfg, cc, args, (*wc.WC).Add, "A")
		})
}

func DeleteCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &PathsConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Cmd, "delete").
		WithAliases("rm").
		WithSynopsis("delete path...").
		WithDescription("schedule paths for deletion").
		WithRun(func(cc *cli.Context, args []string) error {
			return eachPath(cfg, cc, args, (*wc.WC).Delete, "D")
		})
}

func eachPath(cfg *PathsConfig, cc *cli.Context, args []string, fn func(*wc.WC, string) error, flag string) error {
	args, err := cfg.Cmd.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: no paths given", cli.ErrUsage)
	}
	w, err := wc.Open(cfg.Dir, &wc.Options{Log: cfg.logger()})
	if err != nil {
		return err
	}
	defer w.Close()
	for _, arg := range args {
		rel, err := w.Rel(arg)
		if err != nil {
			return err
		}
		if err := fn(w, rel); err != nil {
			return err
		}
		fmt.Fprintf(cc.Out, "%-3s%s\n", flag, rel)
	}
	return nil
}

type StatusConfig struct {
	*MainConfig

	Status *cli.Command
}

func StatusCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &StatusConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Status, "status").
		WithAliases("st").
		WithSynopsis("status").
		WithDescription("list local modifications").
		WithRun(func(cc *cli.Context, args []string) error {
			return status(cfg, cc, args)
		})
}

func status(cfg *StatusConfig, cc *cli.Context, args []string) error {
	if _, err := cfg.Status.Parse(cc, args); err != nil {
		return err
	}
	w, err := wc.Open(cfg.Dir, &wc.Options{Log: cfg.logger()})
	if err != nil {
		return err
	}
	defer w.Close()
	items, err := w.Harvest()
	if err != nil {
		return err
	}
	for _, it := range items {
		fmt.Fprintln(cc.Out, statusLine(cfg.MainConfig, cc, it))
	}
	return nil
}

func statusLine(cfg *MainConfig, cc *cli.Context, it wc.Committable) string {
	line := it.String()
	if !cfg.colors(cc) {
		return line
	}
	switch it.Schedule {
	case wc.ScheduleAdd, wc.ScheduleReplace:
		return color.GreenString(line)
	case wc.ScheduleDelete:
		return color.RedString(line)
	}
	return color.YellowString(line)
}

type CrawlConfig struct {
	*MainConfig
	NoRec bool `cli:"name=N aliases=non-recursive desc='do not descend into subdirectories'"`

	Crawl *cli.Command
}

func CrawlCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &CrawlConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Crawl, "crawl").
		WithSynopsis("crawl [-N] [path]").
		WithDescription("print the revision report an update of path would send").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return crawl(cfg, cc, args)
		})
}

func crawl(cfg *CrawlConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Crawl.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) > 1 {
		return fmt.Errorf("%w: crawl takes at most one path", cli.ErrUsage)
	}
	w, err := wc.Open(cfg.Dir, &wc.Options{Log: cfg.logger()})
	if err != nil {
		return err
	}
	defer w.Close()
	target := ""
	if len(args) == 1 {
		if target, err = w.Rel(args[0]); err != nil {
			return err
		}
	}
	col := &ra.Collector{}
	if err := wc.CrawlRevisions(w, target, col, &wc.CrawlOptions{Recurse: !cfg.NoRec}); err != nil {
		return err
	}
	for _, e := range col.Entries {
		fmt.Fprintln(cc.Out, e)
	}
	return nil
}
