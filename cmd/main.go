// boardwatch scraper-engine
//
// Scrape job scheduling and ingestion pipeline: discovers job postings from
// external boards (RSS feeds and HTML pages) on a schedule, deduplicates and
// normalizes the results, and exposes job lifecycle control
// (start/pause/resume/stop/hard-reset) over a small HTTP API.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boardwatch/scraper-engine/internal/api"
	"boardwatch/scraper-engine/internal/config"
	"boardwatch/scraper-engine/internal/db"
	"boardwatch/scraper-engine/internal/engine"
	"boardwatch/scraper-engine/internal/scheduler"
	"boardwatch/scraper-engine/internal/scraper"
	"boardwatch/scraper-engine/internal/store"
)

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[scraper-engine] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[scraper-engine] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[scraper-engine] PostgreSQL: %v", err)
	}
	defer pool.Close()

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Println("[scraper-engine] Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[scraper-engine] Redis: %v", err)
	}
	defer rdb.Close()

	// ── Engine ───────────────────────────────────────────────────────────────
	st := store.NewPostgres(pool)

	runner := engine.NewRunner(engine.RunnerConfig{
		Store:       st,
		Fetcher:     scraper.NewFetcher(time.Duration(cfg.FetchTimeoutSeconds) * time.Second),
		Extractor:   scraper.NewExtractor(scraper.NewSelectorRegistry()),
		Limiter:     scraper.NewRateLimiter(),
		Dedup:       scraper.NewDeduplicator(rdb),
		Normalizer:  scraper.NewNormalizer(cfg.PublishThreshold),
		Events:      engine.NewEvents(rdb),
		JobDeadline: time.Duration(cfg.JobDeadlineMinutes) * time.Minute,
	})
	runner.Start(ctx, cfg.WorkerCount)

	sched := scheduler.New(st, runner, runner.State(), cfg.TickIntervalSeconds)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[scraper-engine] Scheduler: %v", err)
	}

	// ── HTTP control API ─────────────────────────────────────────────────────
	mux := http.NewServeMux()
	api.NewHandler(st, runner, sched).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[scraper-engine] Listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[scraper-engine] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[scraper-engine] Shutting down…")
	sched.Stop()
	cancel()
	runner.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[scraper-engine] Shutdown error: %v", err)
	}
	log.Println("[scraper-engine] Stopped.")
}
