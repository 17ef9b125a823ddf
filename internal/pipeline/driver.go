package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/dgallion1/irdigest/internal/raster"
)

// ErrNoDelivery is returned by Deliver when no delivery target is configured.
var ErrNoDelivery = errors.New("no delivery target configured")

// ErrTooManyPages rejects documents over the configured page limit.
var ErrTooManyPages = errors.New("document exceeds page limit")

// RecordStore persists finished analyses.
type RecordStore interface {
	Insert(ctx context.Context, rec deck.Record) (int64, error)
}

// Delivery publishes a persisted record somewhere outside the ledger.
type Delivery interface {
	Deliver(ctx context.Context, rec deck.Record) error
}

// DeliveryError wraps a delivery failure that happened after the record
// was persisted. The record stays in the ledger.
type DeliveryError struct {
	RecordID int64
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("record %d persisted but delivery failed: %v", e.RecordID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type DriverOptions struct {
	MaxPages int      // 0 = unlimited
	Delivery Delivery // optional
}

// Driver runs one document end to end: rasterize, analyze, persist, and
// optionally deliver.
type Driver struct {
	raster   raster.Rasterizer
	orch     *Orchestrator
	store    RecordStore
	delivery Delivery
	maxPages int
	log      *slog.Logger
	now      func() time.Time
}

func NewDriver(r raster.Rasterizer, orch *Orchestrator, store RecordStore, opts DriverOptions, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		raster:   r,
		orch:     orch,
		store:    store,
		delivery: opts.Delivery,
		maxPages: opts.MaxPages,
		log:      log,
		now:      time.Now,
	}
}

// HasDelivery reports whether Process delivers after persisting.
func (d *Driver) HasDelivery() bool { return d.delivery != nil }

// WithDelivery returns a copy of d that delivers through del. d itself is
// unchanged.
func (d *Driver) WithDelivery(del Delivery) *Driver {
	cp := *d
	cp.delivery = del
	return &cp
}

// Process analyzes pdf and persists the record. It does not consult the
// ledger first; wrap it in a Guard for that. When delivery fails the
// persisted record is returned together with a *DeliveryError.
func (d *Driver) Process(ctx context.Context, pdf []byte, filename string, obs Observer) (*deck.Record, error) {
	obs = observerOrNoop(obs)
	log := d.log.With("filename", filename)
	start := d.now()

	if d.maxPages > 0 {
		n, err := raster.PageCount(pdf)
		switch {
		case err != nil:
			// The structural reader is stricter than the renderers, which
			// still validate the input themselves.
			log.Warn("page count unavailable", "error", err)
		case n > d.maxPages:
			return nil, fmt.Errorf("%w: %s has %d pages, limit %d", ErrTooManyPages, filename, n, d.maxPages)
		}
	}

	obs.Phase(PhaseRasterizing)
	pages, err := d.raster.Rasterize(ctx, pdf)
	if err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", filename, err)
	}
	log.Info("rasterized", "pages", len(pages))

	res, err := d.orch.Run(ctx, pages, obs)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", filename, err)
	}

	rec := deck.Record{
		Filename:         filename,
		AnalyzedAt:       d.now(),
		PageDetail:       res.PageText,
		StrategicSummary: res.Summary,
		ContentSHA256:    ContentHashHex(pdf),
	}.Normalize()

	obs.Phase(PhaseStoring)
	id, err := d.store.Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("persist %s: %w", filename, err)
	}
	rec.ID = id
	log.Info("analysis stored",
		"record_id", id,
		"pages", len(pages),
		"placeholder_pages", len(res.Failures),
		"duration_ms", d.now().Sub(start).Milliseconds(),
	)

	if d.delivery != nil {
		obs.Phase(PhaseDelivering)
		if err := d.Deliver(ctx, rec); err != nil {
			log.Error("delivery failed", "record_id", id, "error", err)
			return &rec, err
		}
	}
	return &rec, nil
}

// Deliver publishes an existing record without re-analysis.
func (d *Driver) Deliver(ctx context.Context, rec deck.Record) error {
	if d.delivery == nil {
		return ErrNoDelivery
	}
	if err := d.delivery.Deliver(ctx, rec); err != nil {
		return &DeliveryError{RecordID: rec.ID, Err: err}
	}
	d.log.Info("record delivered", "record_id", rec.ID, "filename", rec.Filename)
	return nil
}
