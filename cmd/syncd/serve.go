// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage/config"
	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/metrics"
	"github.com/sage-x-project/sage/pkg/auth"
	"github.com/sage-x-project/sage/pkg/discovery"
	"github.com/sage-x-project/sage/pkg/dispatcher"
	"github.com/sage-x-project/sage/pkg/httpapi"
	"github.com/sage-x-project/sage/pkg/store"
	"github.com/sage-x-project/sage/pkg/store/memory"
	"github.com/sage-x-project/sage/pkg/store/sqlite"
	"github.com/sage-x-project/sage/pkg/transport/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Long: `serve loads configuration, opens the change-log store and starts
a single listener that accepts both websocket upgrades (/sync, /ui) and the
dashboard HTTP surface, plus the LAN discovery responder.`,
	RunE: runServe,
}

var (
	serveConfigFile    string
	serveDataDir       string
	servePort          int
	serveDiscoveryPort int
	serveHostname      string
	serveUseTLS        bool
	serveTLSCertFile   string
	serveTLSKeyFile    string
	serveInMemoryStore bool
	serveNoDiscovery   bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigFile, "config", "", "path to a config file (yaml or json)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "override the vault data directory")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the sync listener port")
	serveCmd.Flags().IntVar(&serveDiscoveryPort, "discovery-port", 0, "override the discovery responder port")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "override the advertised hostname")
	serveCmd.Flags().BoolVar(&serveUseTLS, "use-tls", false, "serve HTTPS/WSS using --tls-cert/--tls-key")
	serveCmd.Flags().StringVar(&serveTLSCertFile, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKeyFile, "tls-key", "", "TLS key file")
	serveCmd.Flags().BoolVar(&serveInMemoryStore, "memory", false, "use an in-memory store instead of sqlite (testing only)")
	serveCmd.Flags().BoolVar(&serveNoDiscovery, "no-discovery", false, "disable the LAN discovery responder")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	configureLogger(cfg)

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	serverID, err := loadOrCreateServerID(cfg.ServerIDPath())
	if err != nil {
		return fmt.Errorf("resolving server id: %w", err)
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	authSvc := auth.New(st)
	hub := dispatcher.NewHub(serverID, st, authSvc)
	dash := httpapi.NewServer(authSvc, st, hub)

	mux := http.NewServeMux()
	dash.RegisterRoutes(mux)
	registerWebsocketRoutes(mux, hub)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("starting metrics surface", logger.Int("port", cfg.Metrics.Port))
			if err := metrics.StartServer(addr); err != nil {
				logger.Warn("metrics surface stopped", logger.Error(err))
			}
		}()
	}

	var responder *discovery.Responder
	if !serveNoDiscovery {
		responder, err = discovery.NewResponder(cfg.Server.DiscoveryPort, cfg.Server.Port, serverID)
		if err != nil {
			return fmt.Errorf("starting discovery responder: %w", err)
		}
		if err := responder.Start(); err != nil {
			return fmt.Errorf("starting discovery responder: %w", err)
		}
		defer responder.Stop()
	}

	logger.Info("syncd starting",
		logger.String("serverId", serverID),
		logger.Int("port", cfg.Server.Port),
		logger.String("dataDir", cfg.Server.DataDir),
		logger.Bool("useTLS", cfg.Server.UseTLS),
	)

	serveErr := make(chan error, 1)
	go func() {
		if cfg.Server.UseTLS {
			serveErr <- httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
			return
		}
		serveErr <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listener stopped: %w", err)
		}
	case <-sigCh:
		logger.Info("syncd shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown failed", logger.Error(err))
		}
	}

	return nil
}

// registerWebsocketRoutes wires the shared upgrader onto /sync and /ui via
// http.ServeMux pattern matching; each handler only upgrades requests for
// its own path and hands the connection to the matching Hub method.
func registerWebsocketRoutes(mux *http.ServeMux, hub *dispatcher.Hub) {
	upgrader := ws.NewUpgrader(nil)

	mux.HandleFunc("GET /sync", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r)
		if err != nil {
			logger.Warn("sync upgrade failed", logger.Error(err))
			return
		}
		hub.Serve(r.Context(), conn)
	})

	mux.HandleFunc("GET /ui", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r)
		if err != nil {
			logger.Warn("ui upgrade failed", logger.Error(err))
			return
		}
		hub.ServeUI(r.Context(), conn)
	})
}

func loadServeConfig() (*config.Config, error) {
	opts := config.DefaultLoaderOptions()
	if serveConfigFile != "" {
		cfg, err := config.LoadFromFile(serveConfigFile)
		if err != nil {
			return nil, err
		}
		config.SubstituteEnvVarsInConfig(cfg)
		applyServeFlags(cfg)
		if issues := config.ValidateConfiguration(cfg); hasValidationError(issues) {
			return nil, fmt.Errorf("invalid configuration: %v", issues)
		}
		return cfg, nil
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, err
	}
	applyServeFlags(cfg)
	return cfg, nil
}

func hasValidationError(issues []config.ValidationError) bool {
	for _, issue := range issues {
		if issue.Level == "error" {
			return true
		}
	}
	return false
}

func applyServeFlags(cfg *config.Config) {
	if serveDataDir != "" {
		cfg.Server.DataDir = serveDataDir
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveDiscoveryPort != 0 {
		cfg.Server.DiscoveryPort = serveDiscoveryPort
	}
	if serveHostname != "" {
		cfg.Server.Hostname = serveHostname
	}
	if serveUseTLS {
		cfg.Server.UseTLS = true
	}
	if serveTLSCertFile != "" {
		cfg.Server.TLSCertFile = serveTLSCertFile
	}
	if serveTLSKeyFile != "" {
		cfg.Server.TLSKeyFile = serveTLSKeyFile
	}
}

func configureLogger(cfg *config.Config) {
	level := logger.InfoLevel
	switch cfg.Logging.Level {
	case "debug":
		level = logger.DebugLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	}
	l := logger.NewLogger(os.Stdout, level)
	l.SetPrettyPrint(cfg.Logging.Format != "json")
	logger.SetDefaultLogger(l)
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	if serveInMemoryStore {
		st := memory.New()
		return st, func() { _ = st.Close() }, nil
	}

	dbPath := filepath.Join(cfg.Server.DataDir, "sync.db")
	blobRoot := filepath.Join(cfg.Server.DataDir, "blobs")
	st, err := sqlite.Open(dbPath, blobRoot)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// loadOrCreateServerID reads the persisted server identity, generating and
// saving a random 128-bit value on first run.
func loadOrCreateServerID(path string) (string, error) {
	if existing, err := os.ReadFile(path); err == nil {
		return string(existing), nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
