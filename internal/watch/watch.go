// Package watch polls a sink folder and analyzes every new PDF in it.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/dgallion1/irdigest/internal/pipeline"
	"github.com/dgallion1/irdigest/internal/sink"
)

// Status markers prefixed to file names in the watched folder.
const (
	MarkerAnalyzing   = "[analyzing] "
	MarkerDone        = "[done] "
	MarkerError       = "[error] "
	MarkerUndelivered = "[undelivered] "
)

var markers = []string{MarkerAnalyzing, MarkerDone, MarkerError, MarkerUndelivered}

// HasMarker reports whether name already carries a status marker.
func HasMarker(name string) bool {
	for _, m := range markers {
		if strings.HasPrefix(name, m) {
			return true
		}
	}
	return false
}

// Processor runs one document. *pipeline.Driver satisfies it.
type Processor interface {
	Process(ctx context.Context, pdf []byte, filename string, obs pipeline.Observer) (*deck.Record, error)
}

type Config struct {
	FolderID string
	Interval time.Duration
	TagFiles bool
}

// Summary counts what one poll did.
type Summary struct {
	Seen        int
	Skipped     int // already marked
	Analyzed    int
	Cached      int
	Failed      int
	Undelivered int
	InProgress  int // claimed by another worker
}

// Loop is the folder watcher.
type Loop struct {
	sink  sink.Sink
	proc  Processor
	guard *pipeline.Guard
	cfg   Config
	log   *slog.Logger
}

func NewLoop(s sink.Sink, proc Processor, guard *pipeline.Guard, cfg Config, log *slog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{sink: s, proc: proc, guard: guard, cfg: cfg, log: log.With("component", "watch")}
}

// Run polls until ctx is cancelled. A failed poll is logged and retried
// on the next tick.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("watching folder", "folder", l.cfg.FolderID, "interval", l.cfg.Interval.String())
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		if sum, err := l.Poll(ctx); err != nil {
			l.log.Error("poll failed", "error", err)
		} else if sum.Seen > sum.Skipped {
			l.log.Info("poll complete",
				"seen", sum.Seen,
				"analyzed", sum.Analyzed,
				"cached", sum.Cached,
				"failed", sum.Failed,
				"undelivered", sum.Undelivered,
				"in_progress", sum.InProgress,
			)
		}

		select {
		case <-ctx.Done():
			l.log.Info("watch stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one cycle over the folder. Files are processed one at a
// time; a failure in one never stops the rest.
func (l *Loop) Poll(ctx context.Context) (Summary, error) {
	var sum Summary
	files, err := l.sink.ListPDFs(ctx, l.cfg.FolderID)
	if err != nil {
		return sum, fmt.Errorf("list watched folder: %w", err)
	}
	sum.Seen = len(files)
	if len(files) > 0 {
		l.log.Debug("found files", "count", len(files))
	}

	for _, f := range files {
		if HasMarker(f.Name) {
			sum.Skipped++
			continue
		}
		if ctx.Err() != nil {
			break
		}
		switch l.handle(ctx, f) {
		case resultAnalyzed:
			sum.Analyzed++
		case resultCached:
			sum.Cached++
		case resultUndelivered:
			sum.Undelivered++
		case resultInProgress:
			sum.InProgress++
		case resultFailed:
			sum.Failed++
		}
	}
	return sum, ctx.Err()
}

type result int

const (
	resultFailed result = iota
	resultAnalyzed
	resultCached
	resultUndelivered
	resultInProgress
	resultInterrupted
)

func (l *Loop) handle(ctx context.Context, f sink.File) (res result) {
	log := l.log.With("filename", f.Name, "file_id", f.ID)
	cur := f.ID

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic processing file", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			l.tag(context.WithoutCancel(ctx), log, cur, MarkerError+f.Name)
			res = resultFailed
		}
	}()

	rec, cached, err := l.guard.Do(ctx, f.Name, func(ctx context.Context) (*deck.Record, error) {
		cur = l.tag(ctx, log, cur, MarkerAnalyzing+f.Name)
		data, err := l.sink.Download(ctx, cur)
		if err != nil {
			return nil, err
		}
		return l.proc.Process(ctx, data, f.Name, nil)
	})

	var derr *pipeline.DeliveryError
	switch {
	case errors.Is(err, pipeline.ErrInProgress):
		log.Debug("claimed elsewhere")
		return resultInProgress
	case err != nil && ctx.Err() != nil:
		// Put the original name back so the next run picks it up.
		l.tag(context.WithoutCancel(ctx), log, cur, f.Name)
		return resultInterrupted
	case errors.As(err, &derr):
		log.Warn("analysis stored, delivery failed", "record_id", derr.RecordID, "error", derr.Err)
		l.tag(ctx, log, cur, MarkerUndelivered+f.Name)
		return resultUndelivered
	case err != nil:
		log.Error("analysis failed", "error", err)
		l.tag(ctx, log, cur, MarkerError+f.Name)
		return resultFailed
	case cached:
		log.Info("already analyzed", "record_id", rec.ID)
		l.tag(ctx, log, cur, MarkerDone+f.Name)
		return resultCached
	default:
		log.Info("analysis complete", "record_id", rec.ID)
		l.tag(ctx, log, cur, MarkerDone+f.Name)
		return resultAnalyzed
	}
}

// tag renames id to name when tagging is on and returns the file's ID
// afterwards. Tags are advisory, so a failed rename only logs.
func (l *Loop) tag(ctx context.Context, log *slog.Logger, id, name string) string {
	if !l.cfg.TagFiles {
		return id
	}
	newID, err := l.sink.Rename(ctx, id, name)
	if err != nil {
		log.Warn("tag rename failed", "target", name, "error", err)
		return id
	}
	return newID
}
