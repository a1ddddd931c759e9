package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/config"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/worker"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// RunLocalCommand executes one or more compute task specs directly against a
// JobRunner, emulating the worker's container lifecycle without a database
// or queue. Useful for exercising a task image during development.
var RunLocalCommand = &cli.Command{
	Name:      "run-local",
	Usage:     "Run one or more compute task specs in containers, emulating worker behavior",
	ArgsUsage: "<task-spec.json> [task-spec.json ...]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Container runtime backend: docker",
			Value: "docker",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Number of task specs to run concurrently when multiple are given",
			Value: 2,
		},
	},
	Action: runLocalAction,
}

// localTaskSpec is the on-disk shape a task-spec.json file must match. It
// carries the same fields as ComputeTaskRequest, except that cpu and gpu sit
// at the top level rather than under a "resources" object.
type localTaskSpec struct {
	Image   string            `json:"image"`
	Command []string          `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	CPU     int               `json:"cpu"`
	GPU     bool              `json:"gpu"`
}

func runLocalAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("usage: gpucloud run-local <task-spec.json> [task-spec.json ...]")
	}

	runner, err := worker.NewJobRunner(ctx.String("backend"))
	if err != nil {
		return fmt.Errorf("create job runner: %w", err)
	}

	files := ctx.Args().Slice()
	pool := workerpool.New(ctx.Int("concurrency"))
	results := make([]error, len(files))

	for i, file := range files {
		i, file := i, file
		pool.Submit(func() {
			results[i] = runLocalTaskFile(context.Background(), runner, file)
		})
	}
	pool.StopWait()

	var failures int
	for i, err := range results {
		if err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "%s: %v\n", files[i], err)
		}
	}
	if failures > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d task(s) failed", failures, len(files)), 1)
	}
	return nil
}

func runLocalTaskFile(ctx context.Context, runner worker.JobRunner, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read task spec: %w", err)
	}
	var spec localTaskSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("parse task spec: %w", err)
	}
	if spec.Image == "" {
		return fmt.Errorf("task spec missing image")
	}

	cpuCores := spec.CPU
	if cpuCores > config.MaxCPU {
		cpuCores = config.MaxCPU
	}
	if cpuCores < 1 {
		cpuCores = 1
	}

	workDir, err := filepath.Abs(filepath.Join("./workspaces", "local-"+uuid.New().String()[:8]))
	if err != nil {
		return fmt.Errorf("resolve workspace dir: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}

	jobConfig := &worker.JobConfig{
		ContainerName: "local_" + uuid.New().String()[:8],
		Image:         spec.Image,
		Command:       append(append([]string{}, spec.Command...), spec.Args...),
		Env:           spec.Env,
		WorkspaceDir:  workDir,
		WorkingDir:    "/workspaces",
		CPUCores:      cpuCores,
		GPU:           spec.GPU,
	}

	fmt.Printf("Running %s: image=%s command=%v\n", file, jobConfig.Image, jobConfig.Command)
	fmt.Println("---")

	containerID, err := runner.SpawnJob(ctx, jobConfig)
	if err != nil {
		return fmt.Errorf("spawn container: %w", err)
	}
	defer func() {
		if cleanupErr := runner.Cleanup(context.Background(), containerID); cleanupErr != nil {
			fmt.Fprintf(os.Stderr, "warning: cleanup failed: %v\n", cleanupErr)
		}
	}()

	stdout, stderr, err := runner.StreamLogs(ctx, containerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to stream logs: %v\n", err)
	}

	done := make(chan struct{}, 2)
	pump := func(r io.ReadCloser, out *os.File) {
		defer r.Close()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			fmt.Fprintln(out, scanner.Text())
		}
		done <- struct{}{}
	}
	if stdout != nil {
		go pump(stdout, os.Stdout)
	} else {
		done <- struct{}{}
	}
	if stderr != nil {
		go pump(stderr, os.Stderr)
	} else {
		done <- struct{}{}
	}
	<-done
	<-done

	exitCode, err := runner.WaitForCompletion(ctx, containerID)
	fmt.Println("---")
	if err != nil {
		return fmt.Errorf("job execution error: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("job failed with exit code %d", exitCode)
	}
	fmt.Printf("%s: completed successfully\n", file)
	return nil
}
