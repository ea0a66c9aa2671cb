package main

import (
	"context"
	"log"
	"net/http"

	"pinchmarket/internal/api"
	"pinchmarket/internal/cache"
	"pinchmarket/internal/config"
	"pinchmarket/internal/db"
	"pinchmarket/internal/ledger"
)

func main() {
	cfg := config.Load()

	// Store: Postgres in production, in-memory for local hacking.
	var store ledger.Store
	if cfg.DatabaseURL == "memory" {
		store = db.NewMemStore()
		log.Println("[main] using in-memory store (data is not durable)")
	} else {
		pg, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db open: %v", err)
		}
		log.Println("[main] connected to database")
		if err := pg.Migrate(cfg.MigrationsDir); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Println("[main] migrations applied")
		store = pg
	}

	// Advisory cache: the service runs fine without it.
	var cc *cache.Client
	if cfg.RedisAddr != "" {
		var err error
		cc, err = cache.New(context.Background(), cfg.RedisAddr)
		if err != nil {
			log.Printf("[main] redis unavailable, cache disabled: %v", err)
			cc = nil
		} else {
			log.Println("[main] leaderboard cache enabled")
		}
	}

	svc := ledger.New(store)
	srv := api.NewServer(svc, cc, cfg.AdminSecret, cfg.BetRate, cfg.BetBurst)

	log.Printf("[main] listening on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, srv.Router()); err != nil {
		log.Fatalf("server: %v", err)
	}
}
