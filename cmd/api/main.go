package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"voicelink/internal/audit"
	"voicelink/internal/auth"
	"voicelink/internal/config"
	"voicelink/internal/directory"
	"voicelink/internal/engine"
	"voicelink/internal/httpapi"
	"voicelink/internal/media"
	"voicelink/internal/presence"
	"voicelink/internal/pstn"
	"voicelink/internal/session"
	"voicelink/internal/signaling"
	"voicelink/pkg/logger"
	"voicelink/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	sessions := session.NewPostgresRepo(db)
	rooms := session.NewRedisRoomReserver(rdb)
	dir := directory.NewPostgresDirectory(db)
	auditor := audit.NewService(audit.NewPostgresRepo(db))

	issuer := media.NewLiveKitIssuer(cfg.LiveKit)
	roomMgr := media.NewLiveKitRooms(cfg.LiveKit)

	registry := presence.NewRegistry(logger.Component(log, "presence"), cfg.Call.HeartbeatTTL())

	callEngine := engine.New(logger.Component(log, "engine"), engine.Config{RingTimeout: cfg.Call.RingTimeout},
		sessions, rooms, issuer, roomMgr, registry, dir, auditor)

	manager := signaling.NewManager(logger.Component(log, "signaling"))
	callEngine.SetSender(manager)
	registry.SetOnOffline(callEngine.OnParticipantDisconnected)

	go registry.Run(rootCtx)

	wsHandler := signaling.NewHandler(logger.Component(log, "signaling"), manager, callEngine, registry, cfg.Call.HeartbeatTTL())

	reconciler := pstn.NewReconciler(logger.Component(log, "pstn"), sessions, auditor)
	webhooks := pstn.NewHandler(logger.Component(log, "pstn"), reconciler,
		workspaceByProviderAccount(cfg), cfg.Twilio.AuthToken)

	apiHandlers := httpapi.Handlers{
		Auth:      authManager,
		Sessions:  sessions,
		Presence:  registry,
		Directory: dir,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, registerDeps{
		db:          db,
		authMW:      auth.RequireAccessToken(authManager),
		ws:          wsHandler,
		webhooks:    webhooks,
		apiHandlers: apiHandlers,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No blanket read/write timeouts: /ws connections are long-lived and
		// manage their own deadlines.
	}

	go func() {
		log.Info("signaling api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	manager.Shutdown()
}

// workspaceByProviderAccount maps a Twilio account to its workspace. A single
// account deployment pins every callback to the configured workspace; larger
// deployments resolve per-subaccount via the provisioning store.
func workspaceByProviderAccount(cfg config.Config) pstn.WorkspaceResolver {
	return func(accountSID string) (string, error) {
		if cfg.Twilio.AccountSID != "" && accountSID == cfg.Twilio.AccountSID && cfg.Twilio.WorkspaceID != "" {
			return cfg.Twilio.WorkspaceID, nil
		}
		return "", errors.New("unknown provider account")
	}
}
