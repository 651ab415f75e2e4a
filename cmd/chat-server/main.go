package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/config"
	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "YAML configuration file")
		listen     = flag.String("listen", "", "RPC listen address (host:port)")
		join       = flag.String("join", "", "Address of any cluster member to join; empty bootstraps a new cluster")
		id         = flag.String("id", "", "Server id (default: random UUID)")
		format     = flag.String("format", "", "Outgoing wire format: delimited or structured")
		admin      = flag.String("admin", "", "Admin HTTP address for /health, /metrics and /cluster")
		storeKind  = flag.String("store", "", "Store backend: memory or postgres")
		dsn        = flag.String("dsn", "", "PostgreSQL connection URL")
		logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags given on the command line win over the file and the environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "join":
			cfg.Join = *join
		case "id":
			cfg.ID = *id
		case "format":
			cfg.Format = *format
		case "admin":
			cfg.Admin = *admin
		case "store":
			cfg.Store.Kind = *storeKind
		case "dsn":
			cfg.Store.DSN = *dsn
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	logger := logging.NewJSONLogger(os.Stderr, cfg.Level())
	logging.SetDefaultLogger(logger)

	ctx := context.Background()
	node, err := server.New(ctx, server.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("failed to start chat server", logging.Error(err))
		os.Exit(1)
	}

	if err := node.Start(ctx); err != nil {
		// Keep serving: heartbeats from the cluster can still admit this server
		node.Logger().Error("failed to join cluster", logging.Addr(cfg.Join), logging.Error(err))
	}

	signals := server.NewSignals(node.Logger())
	if *configFile != "" {
		signals.SetConfigReloadFunc(func() error {
			next, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			logger.SetLevel(next.Level())
			return nil
		})
	}
	signals.Wait(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := node.Shutdown(shutdownCtx); err != nil {
		node.Logger().Error("shutdown error", logging.Error(err))
		os.Exit(1)
	}
}

// loadConfig reads path over the defaults, then applies the environment
func loadConfig(path string) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}
