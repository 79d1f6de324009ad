// Command worker implements the C6 GPU-process lifecycle for exactly
// one task_id (spec.md §4.6): verify ready, load args, acquire GPU, run
// the kernel, write the result, finalize the task state. The pull's
// launcher script execs this binary once per launched task.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/MikkoArtik/gstream/internal/config"
	"github.com/MikkoArtik/gstream/internal/filestore"
	"github.com/MikkoArtik/gstream/internal/gpurig"
	"github.com/MikkoArtik/gstream/internal/gputask"
	"github.com/MikkoArtik/gstream/internal/kernels"
	"github.com/MikkoArtik/gstream/internal/model"
	"github.com/MikkoArtik/gstream/internal/taskstore"
	"github.com/MikkoArtik/gstream/internal/worker"
)

func main() {
	taskID := flag.String("task-id", "", "task_id this worker process runs (required)")
	taskType := flag.String("task-type", "", "task type, used to pick the kernel processor (required)")
	flag.Parse()

	if *taskID == "" || *taskType == "" {
		fmt.Fprintln(os.Stderr, "worker: -task-id and -task-type are required")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: "+err.Error())
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
		log.Fatal().Err(err).Msg("worker: failed to open file store root")
	}

	proc, err := kernels.NewProcessor(model.TaskType(*taskType))
	if err != nil {
		log.Fatal().Err(err).Str("task_type", *taskType).Msg("worker: unknown task type")
	}

	process := &worker.Process{
		TaskID: *taskID,
		Store:  store,
		Files:  files,
		Rig:    gpurig.New(),
		Runner: gputask.UnavailableRunner{},
		Proc:   proc,
	}

	if err := process.Run(context.Background()); err != nil {
		log.Error().Err(err).Str("task_id", *taskID).Msg("worker: task was not ready")
		os.Exit(1)
	}
}
