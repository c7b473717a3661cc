package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"postflow/internal/api"
	"postflow/internal/engine"
	"postflow/internal/generator"
	"postflow/internal/publisher"
	"postflow/internal/scheduler"
	"postflow/internal/store"
)

func main() {
	var (
		addr            = flag.String("addr", ":8080", "HTTP bind address")
		dbPath          = flag.String("db", "postflow.db", "SQLite DB path")
		poll            = flag.Duration("poll", 60*time.Second, "poll interval for due jobs")
		batch           = flag.Int("batch", 10, "max jobs per poll tick")
		dispatchTimeout = flag.Duration("dispatch-timeout", 30*time.Second, "per-platform dispatch timeout")
	)
	flag.Parse()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	repo := store.NewSQLiteRepo(db)
	registry := publisher.NewRegistry(&http.Client{Timeout: *dispatchTimeout})
	gen := generator.NewTemplates(time.Now().UnixNano())
	svc := engine.NewService(repo, registry, gen, *dispatchTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	poller := scheduler.NewService(repo, registry, *poll, *batch, *dispatchTimeout)
	poller.Start(ctx)

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(svc)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	poller.Stop()
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
