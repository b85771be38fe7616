package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/goharvest/internal/config"
	"github.com/3leaps/goharvest/pkg/engine"
	"github.com/3leaps/goharvest/pkg/extract"
	s3store "github.com/3leaps/goharvest/pkg/objectstore/s3"
	"github.com/3leaps/goharvest/pkg/sink"
	"github.com/3leaps/goharvest/pkg/sink/badgersink"
	"github.com/3leaps/goharvest/pkg/sink/sqlitesink"
)

// jobRuntime bundles an engine with the resources it owns.
type jobRuntime struct {
	engine *engine.Engine
	sink   sink.Sink
	closer io.Closer
}

// Close stops the engine and then releases the sink.
func (r *jobRuntime) Close() error {
	var errs []error
	if r.engine != nil {
		errs = append(errs, r.engine.Close())
	}
	if r.closer != nil {
		errs = append(errs, r.closer.Close())
	}
	return errors.Join(errs...)
}

// openSink opens the configured sink. The returned closer may be nil.
func openSink(ctx context.Context, cfg config.SinkConfig, logger *zap.Logger) (sink.Sink, io.Closer, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.SinkDiscard:
		return sink.Discard, nil, nil
	case config.SinkSQLite:
		s, err := sqlitesink.Open(ctx, sqlitesink.Config{Path: cfg.Path}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite sink: %w", err)
		}
		return s, s, nil
	case "", config.SinkBadger:
		s, err := badgersink.Open(cfg.Path, cfg.Path == ":memory:", logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger sink: %w", err)
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink driver %q", cfg.Driver)
	}
}

// buildRuntime wires an engine from cfg. withSink is false for commands
// that only run scans so the sink store is not locked needlessly.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, withSink bool) (*jobRuntime, error) {
	rt := &jobRuntime{sink: sink.Discard}
	if withSink {
		s, closer, err := openSink(ctx, cfg.Sink, logger)
		if err != nil {
			return nil, err
		}
		rt.sink, rt.closer = s, closer
	}

	eng, err := engine.New(cfg.EngineOptions(),
		engine.WithLogger(logger.Named("engine")),
		engine.WithExtractor(extract.NewFileExtractor(cfg.ExtractorOptions())),
		engine.WithSink(rt.sink),
		engine.WithUploaders(s3store.NewFactory(cfg.S3Options())),
	)
	if err != nil {
		if rt.closer != nil {
			_ = rt.closer.Close()
		}
		return nil, err
	}
	rt.engine = eng
	return rt, nil
}
