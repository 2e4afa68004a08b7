package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/dbconfig"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/relay"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/router"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/store"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	port := getEnv("ROUTER_PORT", "8080")
	natsURL := os.Getenv("NATS_URL") // empty disables the relay

	var tuning *TuningConfig
	if path := os.Getenv("ROUTER_CONFIG"); path != "" {
		var err error
		tuning, err = loadTuning(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to load tuning config")
		}
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create database pool")
	}
	defer pool.Close()
	if err := pool.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("port", port).
		Bool("relay", natsURL != "").
		Msg("starting match router")

	var eventRelay router.Relay
	if natsURL != "" {
		relayCfg := relay.DefaultConfig()
		relayCfg.URL = natsURL
		js, err := relay.NewJetStream(relayCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event relay")
		}
		defer js.Close()
		eventRelay = js
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := router.New(ctx, store.NewPostgres(pool), eventRelay, clockwork.NewRealClock(), tuning.routerConfig())
	defer rt.Close()

	handler := transport.NewHandler(rt, transport.DefaultServerConfig())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := rt.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"rooms":%d,"subscribers":%d}`, stats["rooms"], stats["subscribers"])
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: false,
	}).Handler(mux)

	// Finished rooms are swept on a schedule rather than inline on the
	// apply path; the grace period lets final acknowledgements drain.
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(tuning.sweepInterval()),
		gocron.NewTask(func() {
			if swept := rt.SweepFinished(); swept > 0 {
				log.Info().Int("rooms", swept).Msg("swept finished rooms")
			}
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule room sweep")
	}
	scheduler.Start()
	defer scheduler.Shutdown()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      corsHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("match router shutdown complete")
}
