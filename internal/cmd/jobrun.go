package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/goharvest/internal/observability"
	"github.com/3leaps/goharvest/pkg/engine"
	"github.com/3leaps/goharvest/pkg/jobregistry"
	"github.com/3leaps/goharvest/pkg/manifest"
)

// jobRunOptions are the flags shared by scan and stream.
type jobRunOptions struct {
	jobPath          string
	quiet            bool
	dryRun           bool
	progressInterval time.Duration
}

func addJobRunFlags(cmd *cobra.Command, o *jobRunOptions) {
	cmd.Flags().StringVarP(&o.jobPath, "job", "j", "", "Path to a job manifest (flags override its fields)")
	cmd.Flags().BoolVarP(&o.quiet, "quiet", "q", false, "Suppress progress logging")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "Validate the job and print it without running")
	cmd.Flags().DurationVar(&o.progressInterval, "progress-interval", 2*time.Second, "Interval between progress log lines")
}

// loadJobManifest reads the job section of a manifest. A nil config is
// returned when path is empty.
func loadJobManifest(path string) (*engine.JobConfig, error) {
	if path == "" {
		return nil, nil
	}
	m, err := manifest.Load(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, exitError(exitFileNotFound, "Manifest not found", err)
		case errors.Is(err, manifest.ErrValidationFailed):
			return nil, exitError(exitInvalidArgument, "Invalid manifest", err)
		default:
			return nil, exitError(exitFileReadError, "Failed to read manifest", err)
		}
	}
	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", path),
		zap.String("name", m.Name),
		zap.String("kind", string(m.Job.Kind)))
	return &m.Job, nil
}

// runForeground submits jobCfg to a fresh engine, waits for a terminal state
// and prints the final snapshot as JSON. SIGINT and SIGTERM cancel the job.
func runForeground(cmd *cobra.Command, jobCfg engine.JobConfig, o jobRunOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	jobCfg = jobCfg.WithDefaults()
	if err := jobCfg.Validate(); err != nil {
		return exitError(exitInvalidArgument, "Invalid job configuration", err)
	}
	if o.dryRun {
		return printJSON(cmd.OutOrStdout(), jobCfg)
	}

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(exitConfigError, "Configuration unavailable", err)
	}

	withSink := jobCfg.Kind == jobregistry.KindRecordStream
	rt, err := buildRuntime(ctx, cfg, observability.CLILogger, withSink)
	if err != nil {
		return exitError(exitServiceUnavailable, "Failed to initialize engine", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			observability.CLILogger.Warn("Engine shutdown reported errors", zap.Error(err))
		}
	}()

	snap, err := rt.engine.Submit(ctx, jobCfg)
	if err != nil {
		var verrs engine.ValidationErrors
		if errors.As(err, &verrs) {
			return exitError(exitInvalidArgument, "Invalid job configuration", err)
		}
		return exitError(exitFailure, "Failed to submit job", err)
	}
	observability.CLILogger.Info("Job submitted",
		zap.String("job_id", snap.ID),
		zap.String("kind", string(snap.Kind)),
		zap.String("source_path", jobCfg.SourcePath))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	waitCtx, cancelWait := context.WithCancel(context.Background())
	defer cancelWait()
	go func() {
		select {
		case <-sigCtx.Done():
			if rt.engine.Cancel(snap.ID) {
				observability.CLILogger.Warn("Cancelling job", zap.String("job_id", snap.ID))
			}
		case <-waitCtx.Done():
		}
	}()
	if !o.quiet && o.progressInterval > 0 {
		go reportProgress(waitCtx, rt.engine, snap.ID, o.progressInterval)
	}

	final, err := rt.engine.Wait(context.Background(), snap.ID)
	cancelWait()
	if err != nil {
		return exitError(exitFailure, "Lost track of job", err)
	}

	if err := printJSON(cmd.OutOrStdout(), final); err != nil {
		return exitError(exitFileWriteError, "Failed to write result", err)
	}
	return jobExit(final)
}

// jobExit maps a terminal snapshot to the command result.
func jobExit(s jobregistry.JobSnapshot) error {
	fields := []zap.Field{
		zap.String("job_id", s.ID),
		zap.Int64("processed", s.Processed),
		zap.Int64("succeeded", s.Succeeded),
		zap.Int64("failed", s.Failed),
		zap.Int64("duration_ms", s.DurationMs),
	}
	switch s.Status {
	case jobregistry.StatusCompleted:
		observability.CLILogger.Info("Job completed", fields...)
		return nil
	case jobregistry.StatusCancelled:
		return exitError(exitSignalInt, "Job cancelled", nil)
	default:
		cause := "job failed"
		if len(s.Errors) > 0 {
			cause = s.Errors[len(s.Errors)-1]
		}
		return exitError(exitFailure, fmt.Sprintf("Job %s", strings.ToLower(s.Status.String())), errors.New(cause))
	}
}

func reportProgress(ctx context.Context, eng *engine.Engine, id string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s, err := eng.Status(id)
		if err != nil || s.Status.IsTerminal() {
			return
		}
		fields := []zap.Field{
			zap.String("job_id", id),
			zap.String("status", s.Status.String()),
			zap.Int64("processed", s.Processed),
			zap.Int64("total_estimate", s.TotalEstimate),
			zap.Float64("rate_per_second", s.Progress.RatePerSecond),
		}
		if p := s.Progress.Percentage; p != nil {
			fields = append(fields, zap.Float64("percent", *p))
		}
		observability.CLILogger.Info("Progress", fields...)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
