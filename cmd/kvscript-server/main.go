// Command kvscript-server runs a kvscript instance until interrupted.
//
// Settings come from an optional YAML file (--config) and KVSCRIPT_*
// environment variables, e.g. KVSCRIPT_ADDR=:6380 or KVSCRIPT_LOG_LEVEL=debug.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raniellyferreira/kvscript"
	"github.com/raniellyferreira/kvscript/config"
	"github.com/raniellyferreira/kvscript/engine"
	"github.com/raniellyferreira/kvscript/logger"
	"github.com/raniellyferreira/kvscript/replication"
)

func main() {
	var configPath = flag.String("config", "", "Path to a YAML configuration file")
	var versionFlag = flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("kvscript-server", kvscript.Version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "kvscript-server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logger())
	if err != nil {
		return err
	}
	defer log.Sync()

	role, err := replication.ParseRole(cfg.Role)
	if err != nil {
		return err
	}

	inst, err := kvscript.New(
		kvscript.WithAddr(cfg.Addr),
		kvscript.WithPassword(cfg.Password),
		kvscript.WithMaxClients(cfg.MaxClients),
		kvscript.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		kvscript.WithEngine(engine.Kind(cfg.Engine)),
		kvscript.WithDataDir(cfg.DataDir),
		kvscript.WithRole(role),
		kvscript.WithReplicaReadOnly(cfg.ReplicaReadOnly),
		kvscript.WithScriptTimeout(cfg.LuaTimeLimit),
		kvscript.WithScriptCacheSize(cfg.ScriptCacheSize),
		kvscript.WithStoreScripts(cfg.StoreScripts),
		kvscript.WithBacklogSize(cfg.BacklogSize),
		kvscript.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer inst.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := inst.Start(ctx); err != nil {
		return err
	}
	log.Info("kvscript-server ready",
		zap.String("version", kvscript.Version),
		zap.String("addr", inst.Addr()))

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
