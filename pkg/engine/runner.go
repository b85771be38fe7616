package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/goharvest/pkg/batch"
	"github.com/3leaps/goharvest/pkg/extract"
	"github.com/3leaps/goharvest/pkg/jobregistry"
	"github.com/3leaps/goharvest/pkg/match"
	"github.com/3leaps/goharvest/pkg/objectstore"
	"github.com/3leaps/goharvest/pkg/output"
	"github.com/3leaps/goharvest/pkg/progress"
	"github.com/3leaps/goharvest/pkg/records"
	"github.com/3leaps/goharvest/pkg/traverse"
)

// errCancelled ends a pipeline that observed cancellation. It is never
// recorded on the job.
var errCancelled = errors.New("job cancelled")

// runner drives one job from RUNNING to a terminal status.
type runner struct {
	e      *Engine
	job    *jobregistry.Job
	cfg    JobConfig
	logger *zap.Logger
}

func (e *Engine) run(job *jobregistry.Job, cfg JobConfig) {
	r := &runner{e: e, job: job, cfg: cfg, logger: e.logger.With(zap.String("job_id", job.ID))}

	if !job.TransitionAt(jobregistry.StatusPending, jobregistry.StatusRunning, e.now()) {
		r.logger.Debug("job left PENDING before start", zap.Stringer("status", job.Status()))
		return
	}

	ctx, cancel := context.WithCancel(e.baseCtx)
	defer cancel()
	e.mu.Lock()
	e.cancels[job.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, job.ID)
		e.mu.Unlock()
	}()
	// A cancel may have landed before the cancel func was registered.
	if job.Status() != jobregistry.StatusRunning {
		cancel()
	}

	r.logger.Info("job started", zap.String("kind", string(job.Kind)))
	r.finish(r.execute(ctx))
}

func (r *runner) execute(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("runner panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	switch r.job.Kind {
	case jobregistry.KindDirectoryScan:
		return r.runScan(ctx)
	case jobregistry.KindRecordStream:
		return r.runStream(ctx)
	default:
		return fmt.Errorf("unknown job kind %q", r.job.Kind)
	}
}

// cancelled is the cooperative checkpoint.
func (r *runner) cancelled(ctx context.Context) bool {
	return r.job.Status() != jobregistry.StatusRunning || ctx.Err() != nil
}

func (r *runner) updateProgress() {
	r.job.SetProgress(progress.Compute(r.job.Processed(), r.job.TotalEstimate(), r.job.StartedAt(), r.e.now()))
}

func (r *runner) finish(err error) {
	r.updateProgress()
	now := r.e.now()

	var to jobregistry.Status
	switch {
	case err == nil:
		to = jobregistry.StatusCompleted
	case errors.Is(err, errCancelled), errors.Is(err, context.Canceled):
		to = jobregistry.StatusCancelled
	default:
		to = jobregistry.StatusFailed
		if r.job.Status() == jobregistry.StatusRunning {
			r.job.AddError(err.Error())
		}
	}

	if !r.job.TransitionAt(jobregistry.StatusRunning, to, now) {
		// Cancel won the race; the job stays CANCELLED.
		to = r.job.Status()
	}

	snap := r.job.Snapshot(now)
	fields := []zap.Field{
		zap.Stringer("status", to),
		zap.Int64("processed", snap.Processed),
		zap.Int64("succeeded", snap.Succeeded),
		zap.Int64("failed", snap.Failed),
		zap.Int64("duration_ms", snap.DurationMs),
	}
	if to == jobregistry.StatusFailed {
		r.logger.Error("job failed", append(fields, zap.Error(err))...)
		return
	}
	r.logger.Info("job finished", fields...)
}

// runScan traverses the source directory and writes one manifest row per
// extracted file.
func (r *runner) runScan(ctx context.Context) error {
	cfg := r.cfg
	m, err := match.New(match.Config{
		Extensions:    cfg.SupportedExtensions,
		Excludes:      cfg.Exclude,
		IncludeHidden: true,
		MinSize:       cfg.MinFileSize,
		MaxSize:       cfg.MaxFileSize,
	})
	if err != nil {
		return err
	}

	res, err := traverse.Scan(ctx, traverse.Options{
		Root:      cfg.SourcePath,
		Matcher:   m,
		Recursive: cfg.IsRecursive(),
		MaxItems:  cfg.MaxItems,
	})
	if err != nil {
		if ctx.Err() != nil {
			return errCancelled
		}
		return err
	}
	for _, w := range res.Warnings {
		r.job.AddWarning(w)
	}
	if res.Truncated {
		r.job.AddWarning(fmt.Sprintf("max_items %d reached, traversal stopped", cfg.MaxItems))
	}
	r.job.SetTotalFiles(len(res.Files))
	r.job.SetTotalEstimate(int64(len(res.Files)))
	r.job.SetExtensions(res.Extensions)
	r.logger.Debug("traversal complete",
		zap.Int("files", len(res.Files)),
		zap.Int("dirs", res.DirsVisited),
		zap.Strings("extensions", res.Extensions),
	)

	localPath, remote, err := r.manifestTarget()
	if err != nil {
		return err
	}
	if remote != nil {
		r.job.SetOutputLocation(remote.String())
	} else {
		r.job.SetOutputLocation(localPath)
	}

	f, err := output.CreateFile(localPath)
	if err != nil {
		return err
	}
	w, err := output.New(cfg.ManifestFormat, f, r.job.ID)
	if err != nil {
		_ = f.Close()
		return err
	}

	if err := r.extractAll(ctx, res.Files, w); err != nil {
		_ = w.Close()
		_ = f.Close()
		return err
	}

	snap := r.job.Snapshot(r.e.now())
	if err := w.WriteSummary(ctx, &output.SummaryRecord{
		FilesFound: snap.TotalFilesFound,
		Processed:  snap.Processed,
		Succeeded:  snap.Succeeded,
		Failed:     snap.Failed,
		Extensions: snap.Extensions,
	}); err != nil {
		_ = w.Close()
		_ = f.Close()
		return fmt.Errorf("write manifest summary: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}

	if remote != nil {
		return r.upload(ctx, *remote, localPath)
	}
	return nil
}

// manifestTarget resolves where the manifest is written. Object store
// destinations are staged in the scratch directory.
func (r *runner) manifestTarget() (string, *objectstore.URI, error) {
	dest := r.cfg.Destination
	switch {
	case objectstore.IsObjectURI(dest):
		uri, err := objectstore.ParseURI(dest)
		if err != nil {
			return "", nil, err
		}
		dir := r.e.cfg.ScratchDir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "goharvest")
		}
		return output.DefaultPath(dir, r.job.ID, r.cfg.ManifestFormat), &uri, nil
	case dest == "":
		return output.DefaultPath(r.cfg.SourcePath, r.job.ID, r.cfg.ManifestFormat), nil, nil
	default:
		return dest, nil, nil
	}
}

func (r *runner) extractAll(ctx context.Context, files []string, w output.Writer) error {
	var limiter *rate.Limiter
	if r.e.cfg.ExtractRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.e.cfg.ExtractRateLimit), 1)
	}

	for _, path := range files {
		if r.cancelled(ctx) {
			return errCancelled
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return errCancelled
			}
		}

		doc, err := r.e.extractor.Extract(ctx, path)
		if err != nil && ctx.Err() != nil {
			return errCancelled
		}
		r.job.AddProcessed(1)

		if extract.IsFatal(err) {
			r.job.AddFailed(1)
			r.updateProgress()
			return fmt.Errorf("%s: %w", path, err)
		}
		if err != nil {
			r.job.AddFailed(1)
			r.job.AddError(fmt.Sprintf("%s: %v", path, err))
			r.logger.Debug("extraction failed", zap.String("path", path), zap.Error(err))
			if werr := w.WriteError(ctx, &output.ErrorRecord{
				Code:    errorCode(err),
				Message: err.Error(),
				Path:    path,
			}); werr != nil {
				return fmt.Errorf("write manifest: %w", werr)
			}
		} else {
			if werr := w.WriteDocument(ctx, documentRecord(path, doc)); werr != nil {
				return fmt.Errorf("write manifest: %w", werr)
			}
			r.job.AddSucceeded(1)
		}
		r.updateProgress()
	}
	return nil
}

func (r *runner) upload(ctx context.Context, uri objectstore.URI, localPath string) error {
	up, err := r.e.uploaders(ctx, uri.Bucket)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	if err := up.Upload(ctx, uri.Key, localPath); err != nil {
		if ctx.Err() != nil {
			return errCancelled
		}
		return fmt.Errorf("upload manifest: %w", err)
	}
	if err := os.Remove(localPath); err != nil {
		r.logger.Debug("remove staged manifest", zap.String("path", localPath), zap.Error(err))
	}
	r.logger.Info("manifest uploaded", zap.String("uri", uri.String()))
	return nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, extract.ErrUnsupported):
		return output.ErrCodeUnsupported
	case errors.Is(err, os.ErrNotExist):
		return output.ErrCodeNotFound
	case errors.Is(err, extract.ErrExtraction):
		return output.ErrCodeExtraction
	default:
		return output.ErrCodeInternal
	}
}

func documentRecord(path string, doc *extract.Document) *output.DocumentRecord {
	meta := doc.Metadata
	rec := &output.DocumentRecord{
		Path:        path,
		FileName:    meta[extract.MetaFileName],
		FilePath:    meta[extract.MetaFilePath],
		ContentType: meta[extract.MetaContentType],
		Text:        doc.Text,
		Metadata:    meta,
	}
	if rec.FileName == "" {
		rec.FileName = filepath.Base(path)
	}
	if rec.FilePath == "" {
		rec.FilePath = path
	}
	if size, err := strconv.ParseInt(meta[extract.MetaFileSize], 10, 64); err == nil {
		rec.FileSize = size
	}
	return rec
}

// runStream decodes the source file and feeds it through a batcher into the
// configured sink.
func (r *runner) runStream(ctx context.Context) error {
	cfg := r.cfg
	total := records.EstimateCount(cfg.SourcePath, cfg.HeaderRow())
	r.job.SetTotalEstimate(total)
	r.job.SetOutputLocation(cfg.Destination)

	src, err := records.Open(cfg.SourcePath, cfg.decodeConfig())
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = src.Close() }()

	b := batch.New(batch.Config{
		BatchSize:       cfg.BatchSize,
		MaxRecords:      cfg.MaxRecords,
		ContentColumn:   cfg.ContentColumn,
		IDColumn:        cfg.IDColumn,
		MetadataColumns: cfg.MetadataColumns,
		MaxContentBytes: r.e.cfg.MaxContentBytes,
		MaxErrors:       jobregistry.MaxErrors,
		Destination:     cfg.Destination,
		SourceName:      cfg.sourceName(),
		WriteAttempts:   r.e.cfg.WriteAttempts,
		RetryDelay:      r.e.cfg.RetryDelay,
	},
		batch.WithLogger(r.logger),
		batch.WithObserver(jobObserver{r}),
		batch.WithCancelCheck(func() bool { return r.job.Status() != jobregistry.StatusRunning }),
	)

	sum, err := b.Stream(ctx, src, r.e.sink)
	r.job.SetCounters(sum.Processed, sum.Succeeded, sum.Failed, sum.Skipped, sum.Batches)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, records.ErrMissingColumn) {
			return errCancelled
		}
		return err
	}
	if sum.Cancelled {
		return errCancelled
	}
	return nil
}

// jobObserver publishes batcher events onto the job.
type jobObserver struct {
	r *runner
}

func (o jobObserver) Flushed(c batch.Counters) {
	o.r.job.SetCounters(c.Processed, c.Succeeded, c.Failed, c.Skipped, c.Batches)
	o.r.updateProgress()
}

func (o jobObserver) Error(msg string)   { o.r.job.AddError(msg) }
func (o jobObserver) Warning(msg string) { o.r.job.AddWarning(msg) }
