package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/arqut/arqut-desk/internal/api"
	"github.com/arqut/arqut-desk/internal/broker"
	"github.com/arqut/arqut-desk/internal/config"
	"github.com/arqut/arqut-desk/internal/events"
	"github.com/arqut/arqut-desk/internal/pkg/logger"
	"github.com/arqut/arqut-desk/internal/registry"
	"github.com/arqut/arqut-desk/internal/relay"
	"github.com/arqut/arqut-desk/internal/storage"
	"github.com/arqut/arqut-desk/internal/turn"
)

const version = "0.1.0"

// runServer starts the broker, the relay and the optional services, then
// blocks until SIGINT or SIGTERM
func runServer() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	log.Info("Starting Arqut Desk Server",
		"port", cfg.Server.Port,
		"relay_port", cfg.Server.RelayPort(),
		"version", version,
	)

	// Session audit log
	var store storage.Storage
	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			log.Error("Failed to create data directory", "error", err)
			os.Exit(1)
		}

		sqlStore, err := storage.NewSQLiteStorage(cfg.Storage.Path)
		if err != nil {
			log.Error("Failed to open storage", "error", err)
			os.Exit(1)
		}
		if err := sqlStore.Init(); err != nil {
			log.Error("Failed to initialize database schema", "error", err)
			os.Exit(1)
		}
		defer sqlStore.Close()

		// Sessions left open by a previous run can never end normally
		if n, err := sqlStore.CloseOpenSessions(time.Now()); err != nil {
			log.Warn("Failed to close stale sessions", "error", err)
		} else if n > 0 {
			log.Info("Closed stale sessions", "count", n)
		}

		store = sqlStore
		log.Info("Storage initialized", "path", cfg.Storage.Path)
	}

	hub := events.NewHub()
	reg := registry.New()

	brokerServer := broker.New(&cfg.Broker, cfg.Server.PublicHost, reg, store, hub, log.Logger)
	brokerAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	if err := brokerServer.Start(brokerAddr); err != nil {
		log.Error("Failed to start broker", "error", err)
		os.Exit(1)
	}
	defer brokerServer.Stop()

	relayServer := relay.New(reg, brokerServer, log.Logger)
	relayAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.RelayPort()))
	if err := relayServer.Start(relayAddr); err != nil {
		log.Error("Failed to start relay", "error", err)
		os.Exit(1)
	}
	defer relayServer.Stop()

	var turnServer *turn.Server
	if cfg.Turn.Enabled {
		turnServer = turn.New(&cfg.Turn, log.Logger)
		if err := turnServer.Start(); err != nil {
			log.Error("Failed to start TURN server", "error", err)
			os.Exit(1)
		}
		defer turnServer.Stop()
	}

	if cfg.API.Enabled {
		if cfg.API.APIKey.Hash == "" {
			log.Warn("Admin API enabled but no API key is configured, not starting it")
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "Generate an API key with:")
			fmt.Fprintf(os.Stderr, "    %s apikey generate -c %s\n", os.Args[0], cfgFile)
			fmt.Fprintln(os.Stderr, "")
		} else {
			deps := api.Deps{
				Directory: reg,
				Kicker:    brokerServer,
				Events:    hub,
				Relay:     relayServer,
			}
			// Leave optional deps as untyped nil when disabled
			if store != nil {
				deps.Storage = store
			}
			if turnServer != nil {
				deps.Turn = turnServer
			}

			apiServer := api.New(&cfg.API, deps, log.Logger)
			go func() {
				if err := apiServer.Start(); err != nil {
					log.Error("Admin API error", "error", err)
				}
			}()
			defer apiServer.Stop()
			log.Info("API key loaded", "created_at", cfg.API.APIKey.CreatedAt)
		}
	}

	log.Info("Server initialized successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			log.Info("Received SIGHUP, reloading configuration")
			newCfg, err := config.Load(cfgFile)
			if err != nil {
				log.Error("Failed to reload config", "error", err)
				continue
			}
			brokerServer.UpdateRateLimit(newCfg.Broker.RateLimit)
			if turnServer != nil {
				turnServer.UpdateSecret(newCfg.Turn.Auth.Secret, newCfg.Turn.Auth.TTLSeconds)
			}
			log.Info("Configuration reloaded successfully")

		case syscall.SIGINT, syscall.SIGTERM:
			log.Info("Received shutdown signal", "signal", sig.String())
			return
		}
	}
}
