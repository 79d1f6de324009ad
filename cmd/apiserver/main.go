// Command apiserver runs the HTTP surface (C8, spec.md §6): the thin
// collaborator that creates tasks, accepts input bytes, and serves
// state/log/result back to clients. It shares the Redis-backed task
// store and the filesystem with cmd/pull and cmd/worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/MikkoArtik/gstream/internal/config"
	"github.com/MikkoArtik/gstream/internal/filestore"
	"github.com/MikkoArtik/gstream/internal/httpapi"
	"github.com/MikkoArtik/gstream/internal/taskstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "apiserver: "+err.Error())
		os.Exit(1)
	}

	if cfg.IsDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	store := taskstore.New(taskstore.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DBIndex:  cfg.RedisDBIndex,
	})
	defer store.Close()

	files, err := filestore.New(cfg.StorageRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("apiserver: failed to open file store root")
	}

	server := httpapi.NewServer(store, files, httpapi.Config{
		MaxTasksPerUser:   cfg.MaxTasksPerUser,
		MaxInputArgsBytes: int64(cfg.MaxInputArgsMegabytes) * 1024 * 1024,
	})

	addr := fmt.Sprintf("%s:%d", cfg.AppHost, cfg.AppPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // /load-args and /result stream large bodies
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", addr).Msg("apiserver: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("apiserver: listen failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("apiserver: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apiserver: graceful shutdown failed")
	}
}
