package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/hijab-blur/internal/artifacts"
	"github.com/example/hijab-blur/internal/config"
	"github.com/example/hijab-blur/internal/pipeline"
	"github.com/example/hijab-blur/internal/usecase"
	"github.com/example/hijab-blur/internal/worker"
)

var processOutput string

var processCmd = &cobra.Command{
	Use:   "process <image>...",
	Short: "Blur uncovered faces in local images without running the server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layout := artifacts.NewLayout(
			processOutput,
			filepath.Join(processOutput, "visualizations"),
			filepath.Join(processOutput, "cropped"),
		)
		pipe, err := newPipeline(cfg, layout, logger)
		if err != nil {
			return err
		}
		return runBatch(cmd.Context(), pipe, cfg, args, cmd.OutOrStdout(), logger)
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOutput, "out", "o", "./output/batch", "directory receiving the blurred images and debug artifacts")
}

type batchResult struct {
	input   string
	outcome *pipeline.Outcome
	err     error
}

// runBatch processes every input on a worker pool and prints one line per image.
func runBatch(ctx context.Context, runner usecase.Runner, cfg *config.Config, inputs []string, out io.Writer, logger *zap.Logger) error {
	pool := worker.NewPool(worker.Config{Workers: cfg.Pipeline.Workers, QueueSize: len(inputs)}, logger)
	pool.Start()

	bar := progressbar.NewOptions(len(inputs),
		progressbar.OptionSetDescription("Blurring"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	var (
		mu      sync.Mutex
		results = make([]batchResult, len(inputs))
	)
	for i, input := range inputs {
		i, input, id := i, input, uuid.NewString()
		job := worker.JobFunc{
			JobID: id,
			Fn: func(jobCtx context.Context) error {
				outcome, err := runner.Run(jobCtx, pipeline.Request{TaskID: id, InputPath: input})
				mu.Lock()
				results[i] = batchResult{input: input, outcome: outcome, err: err}
				mu.Unlock()
				_ = bar.Add(1)
				return nil
			},
		}
		if err := pool.Submit(job); err != nil {
			return err
		}
	}

	stopped := make(chan error, 1)
	go func() { stopped <- pool.Stop(context.Background()) }()
	select {
	case err := <-stopped:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(out, "%s\t%s\t%s\n", r.input, pipeline.KindOf(r.err), r.err)
			continue
		}
		fmt.Fprintf(out, "%s\t%s\tfaces=%d blurred=%d\n", r.input, r.outcome.OutputPath, len(r.outcome.Faces), r.outcome.BlurredCount())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(inputs))
	}
	return nil
}
