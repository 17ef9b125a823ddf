package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/dgallion1/irdigest/internal/report"
)

// ReportDelivery uploads the markdown report of a record into the result
// folder under parent.
type ReportDelivery struct {
	sink   Sink
	parent string

	mu     sync.Mutex
	folder string
}

func NewReportDelivery(s Sink, parent string) *ReportDelivery {
	return &ReportDelivery{sink: s, parent: parent}
}

func (d *ReportDelivery) Deliver(ctx context.Context, rec deck.Record) error {
	folder, err := d.resultFolder(ctx)
	if err != nil {
		return err
	}
	name := report.FileName(rec.Filename)
	if _, err := d.sink.UploadReport(ctx, folder, name, []byte(report.Markdown(rec))); err != nil {
		return fmt.Errorf("deliver %s: %w", name, err)
	}
	return nil
}

// resultFolder resolves the result folder once and remembers it. A
// failed lookup is retried on the next delivery.
func (d *ReportDelivery) resultFolder(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.folder != "" {
		return d.folder, nil
	}
	id, err := d.sink.EnsureResultFolder(ctx, d.parent)
	if err != nil {
		return "", fmt.Errorf("result folder: %w", err)
	}
	d.folder = id
	return id, nil
}
