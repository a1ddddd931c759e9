package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/admission"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/config"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/postgres_store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/worker"
	"github.com/urfave/cli/v2"
)

var WorkerCommand = &cli.Command{
	Name:  "worker",
	Usage: "Run the compute task worker",
	Flags: append(flags, workerFlags...),
	Action: func(ctx *cli.Context) error {
		return RunWorker(ctx)
	},
}

var workerFlags = []cli.Flag{
	&cli.IntFlag{
		Name:    "poll-interval",
		Aliases: []string{"p"},
		Value:   config.WorkerPollIntervalSeconds,
		Usage:   "Poll interval in seconds for checking task_queue",
		EnvVars: []string{"WORKER_POLL_INTERVAL_SECONDS"},
	},
	&cli.IntFlag{
		Name:    "concurrency",
		Aliases: []string{"c"},
		Value:   config.WorkerConcurrency,
		Usage:   "Number of task payloads to process concurrently",
		EnvVars: []string{"WORKER_CONCURRENCY"},
	},
	&cli.StringFlag{
		Name:    "container-runtime",
		Aliases: []string{"r"},
		Value:   config.ContainerRuntime,
		Usage:   "Container runtime backend: docker",
		EnvVars: []string{"CONTAINER_RUNTIME"},
	},
	&cli.StringFlag{
		Name:    "worker-id",
		Usage:   "Identifier this worker claims task_queue rows under (default: hostname-pid)",
		EnvVars: []string{"WORKER_ID"},
	},
}

func RunWorker(ctx *cli.Context) error {
	store.AppStore = postgres_store.PostgresStore

	deferredStoreFuncs := initStores()
	for _, deferredFunc := range deferredStoreFuncs {
		defer deferredFunc()
	}

	pollInterval := time.Duration(ctx.Int("poll-interval")) * time.Second
	concurrency := ctx.Int("concurrency")
	containerRuntime := ctx.String("container-runtime")
	workerID := ctx.String("worker-id")
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	logging.Log.Infof("starting worker %s", workerID)
	logging.Log.Infof("poll interval: %v, concurrency: %d, container runtime: %s", pollInterval, concurrency, containerRuntime)

	runner, err := worker.NewJobRunner(containerRuntime)
	if err != nil {
		return fmt.Errorf("create job runner: %w", err)
	}

	admissionController := admission.NewController(store.AppStore)

	w := worker.New(&worker.Config{
		PollInterval: pollInterval,
		Concurrency:  concurrency,
		Store:        store.AppStore,
		Admission:    admissionController,
		Runner:       runner,
		WorkerID:     workerID,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(workerCtx)
	}()

	select {
	case sig := <-sigCh:
		logging.Log.Infof("received signal %v, shutting down worker", sig)
		cancel()
		return <-errCh
	case err := <-errCh:
		return err
	}
}
