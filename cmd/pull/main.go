// Command pull runs the task-pull scheduler (C7, spec.md §4.7): the six
// always-on loops plus one run loop per discovered task type. It is the
// only process that spawns worker subprocesses and garbage-collects
// their artifacts once a client accepts the result.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/MikkoArtik/gstream/internal/config"
	"github.com/MikkoArtik/gstream/internal/filestore"
	"github.com/MikkoArtik/gstream/internal/gpurig"
	"github.com/MikkoArtik/gstream/internal/pull"
	"github.com/MikkoArtik/gstream/internal/taskstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pull: "+err.Error())
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
		log.Fatal().Err(err).Msg("pull: failed to open file store root")
	}

	rig := gpurig.New()

	scheduler := pull.New(store, files, rig, pull.Config{
		Sleep:             cfg.PullSleep,
		CPUCores:          gpurig.CPUCoresCount(),
		FileGraceDuration: cfg.FileStoreGraceDuration,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Dur("sleep", cfg.PullSleep).
		Int("cpu_cores", gpurig.CPUCoresCount()).
		Msg("pull: starting scheduler loops")

	// Run blocks until ctx is canceled; in-flight subprocesses are left
	// running on shutdown (spec.md §4.7 Cancellation) — TTL expiry plus
	// the next process's L1 cycle reclaim any orphaned artifacts.
	scheduler.Run(ctx)

	log.Info().Msg("pull: stopped")
}
