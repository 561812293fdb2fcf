package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fosslife/rykard/internal/config"
	"github.com/fosslife/rykard/internal/db"
	"github.com/fosslife/rykard/internal/docker"
	"github.com/fosslife/rykard/internal/handlers"
	"github.com/fosslife/rykard/internal/models"
	"github.com/fosslife/rykard/internal/terminal"
	"github.com/fosslife/rykard/internal/ws"
)

// version is set at build time via -ldflags="-X main.version=..."
var version = "0.3.0"

func main() {
	// Quick healthcheck mode — used by Docker HEALTHCHECK from scratch image.
	// Avoids needing wget/curl in the container. The binary starts in ~10ms,
	// hits /healthz, and exits immediately — no server initialization.
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		port := "5810"
		if v := os.Getenv("RYKARD_PORT"); v != "" {
			port = v
		}
		resp, err := http.Get("http://127.0.0.1:" + port + "/healthz")
		if err != nil || resp.StatusCode != 200 {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	slog.Info("starting rykard",
		"host", cfg.Host,
		"port", cfg.Port,
		"dataDir", cfg.DataDir,
		"engineMode", cfg.EngineMode,
		"pprof", cfg.Pprof,
		"logLevel", cfg.LogLevel,
		"noAuth", cfg.NoAuth,
	)

	// Open database
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		slog.Error("database", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	// Models
	users := models.NewUserStore(database)
	settings := models.NewSettingStore(database)

	// JWT secret (auto-generated on first run)
	jwtSecret, err := settings.EnsureJWTSecret()
	if err != nil {
		slog.Error("jwt secret", "err", err)
		os.Exit(1)
	}

	// Engine connection manager. The dial runs on first use, not here, so
	// rykard starts cleanly with the daemon stopped and reports that state
	// to the frontend instead of failing the process.
	engine := docker.NewManager(func() (docker.Client, error) {
		return docker.NewClient(docker.Mode(cfg.EngineMode), cfg.DockerHost)
	})
	defer engine.Close()

	// WebSocket server, stream relay, terminal manager
	wss := ws.NewServer()
	relay := docker.NewRelay()
	terms := terminal.NewManager()

	// Wire up handlers
	app := &handlers.App{
		Users:        users,
		Settings:     settings,
		WS:           wss,
		Engine:       engine,
		Relay:        relay,
		Terms:        terms,
		JWTSecret:    jwtSecret,
		JWTTTL:       cfg.JWTTTL,
		Version:      version,
		NoAuth:       cfg.NoAuth,
		LogTail:      cfg.LogTail,
		StatsWorkers: cfg.StatsWorkers,
	}
	handlers.RegisterAuthHandlers(app)
	handlers.RegisterEngineHandlers(app)
	handlers.RegisterContainerHandlers(app)
	handlers.RegisterImageHandlers(app)
	handlers.RegisterStatsHandlers(app)
	handlers.RegisterLogHandlers(app)
	handlers.RegisterEventHandlers(app)
	handlers.RegisterTerminalHandlers(app)
	handlers.RegisterSettingsHandlers(app)

	// No-auth mode: auto-authenticate every connection as user 1
	if cfg.NoAuth {
		slog.Warn("authentication disabled (--no-auth)")
		wss.HandleConnect(func(c *ws.Conn) {
			c.SetUser(1)
		})
	}

	// Tear down per-connection streams when a connection drops
	wss.OnDisconnect(func(c *ws.Conn) {
		relay.CancelPrefix(c.ID() + ":")
		terms.RemoveWriterFromAll(c.ID())
	})

	// HTTP mux
	mux := http.NewServeMux()
	mux.Handle("/ws", wss)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Enable pprof endpoints via --pprof or RYKARD_PPROF=1
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprofIndex)
		mux.HandleFunc("/debug/pprof/cmdline", pprofCmdline)
		mux.HandleFunc("/debug/pprof/profile", pprofProfile)
		mux.HandleFunc("/debug/pprof/symbol", pprofSymbol)
		mux.HandleFunc("/debug/pprof/trace", pprofTrace)
		slog.Info("pprof enabled at /debug/pprof/")
	}

	// One context drives the background tasks and ends on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize broadcast infrastructure, then watch the daemon socket so
	// reachability changes reach every client without polling from the UI.
	app.InitBroadcast()
	app.StartStatusWatcher(ctx, cfg.DockerHost, 0)

	// Start HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

// pprof handler wrappers — net/http/pprof registers on DefaultServeMux via init(),
// but we use a custom mux. Reference the exported handler functions directly.
var (
	pprofIndex   = netpprof.Index
	pprofCmdline = netpprof.Cmdline
	pprofProfile = netpprof.Profile
	pprofSymbol  = netpprof.Symbol
	pprofTrace   = netpprof.Trace
)
