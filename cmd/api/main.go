package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"unityplan.org/internal/auth"
	"unityplan.org/internal/config"
	"unityplan.org/internal/httpapi"
	"unityplan.org/internal/invite"
	"unityplan.org/internal/obs"
	"unityplan.org/internal/tenant"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	codec, err := auth.NewCodec(cfg.TokenSecret, cfg.AccessTTL)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	var (
		store       auth.Store
		inviteStore invite.Store
		territories tenant.Registry
	)
	if db != nil {
		store = auth.NewPGStore(db)
		inviteStore = invite.NewPGStore(db)
		territories = tenant.NewPGRegistry(db)
	} else {
		// No DSN: run fully in memory for local development.
		mem := invite.NewInMemory()
		store = auth.NewInMemory(mem)
		inviteStore = mem
		territories = tenant.NewStatic(
			tenant.Territory{Code: "kz", Name: "Kazakhstan", Active: true},
		)
		log.Println("UNITYPLAN_PG_DSN not set; using in-memory stores")
	}

	engine := invite.NewEngine(inviteStore)
	svc, err := auth.NewService(store, engine, territories, codec, cfg.RefreshTTL)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, svc, version)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting unityplan-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
