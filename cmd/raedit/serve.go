package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/scott-cotton/cli"
	"github.com/signadot/raedit/server"
)

type ServeConfig struct {
	*MainConfig
	Config    string `cli:"name=config desc='YAML configuration file'"`
	Listen    string `cli:"name=listen desc='TCP listen address, overrides the configuration'"`
	WebSocket string `cli:"name=ws desc='websocket listen address, overrides the configuration'"`
	Gops      bool   `cli:"name=gops desc='start a gops agent'"`

	Serve *cli.Command
}

func ServeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ServeConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Serve, "serve").
		WithSynopsis("serve [-config file] [-listen addr] [-ws addr]").
		WithDescription("serve an in-memory repository until interrupted").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return serve(cfg, cc, args)
		})
}

func serve(cfg *ServeConfig, cc *cli.Context, args []string) error {
	_, err := cfg.Serve.Parse(cc, args)
	if err != nil {
		return err
	}
	conf := server.DefaultConfig()
	if cfg.Config != "" {
		if conf, err = server.LoadConfig(cfg.Config); err != nil {
			return err
		}
	}
	if cfg.Listen != "" {
		conf.Listen = cfg.Listen
	}
	if cfg.WebSocket != "" {
		conf.WebSocket = cfg.WebSocket
	}

	if cfg.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			fmt.Fprintf(cc.Out, "gops agent failed: %v\n", err)
		}
		defer agent.Close()
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	srv, err := server.New(&server.Setup{
		Config: conf,
		Log:    slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	if addr := srv.TCPAddr(); addr != "" {
		fmt.Fprintf(cc.Out, "listening on svn://%s\n", addr)
	}
	if addr := srv.WebSocketAddr(); addr != "" {
		fmt.Fprintf(cc.Out, "listening on ws://%s\n", addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Fprintf(cc.Out, "\nShutting down...\n")
	return srv.Stop()
}
