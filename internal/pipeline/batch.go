package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/dgallion1/irdigest/internal/deck"
)

// Document is one input to a batch.
type Document struct {
	Filename string
	Data     []byte
}

// Outcome is the per-document result of a batch.
type Outcome struct {
	Filename string
	Record   *deck.Record
	Cached   bool
	Err      error
}

type BatchResult struct {
	Outcomes []Outcome
}

// Failed returns outcomes with an error, including persisted records whose
// delivery failed.
func (b BatchResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range b.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// RunFunc processes one document and reports whether it was a cache hit.
type RunFunc func(ctx context.Context, doc Document) (*deck.Record, bool, error)

// RunBatch processes docs one after another. A failure or panic in one
// document is recorded in its Outcome and never stops the rest. Only
// cancellation of ctx ends the batch early; skipped documents carry the
// context error.
func RunBatch(ctx context.Context, docs []Document, run RunFunc) BatchResult {
	res := BatchResult{Outcomes: make([]Outcome, 0, len(docs))}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			res.Outcomes = append(res.Outcomes, Outcome{Filename: doc.Filename, Err: err})
			continue
		}
		res.Outcomes = append(res.Outcomes, runIsolated(ctx, doc, run))
	}
	return res
}

func runIsolated(ctx context.Context, doc Document, run RunFunc) (out Outcome) {
	out.Filename = doc.Filename
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic processing %s: %v\n%s", doc.Filename, r, debug.Stack())
		}
	}()
	out.Record, out.Cached, out.Err = run(ctx, doc)
	return out
}

// Runner returns a RunFunc over d. With a guard the cache check and claim
// apply; force skips the cache check but still claims.
func (d *Driver) Runner(guard *Guard, force bool, obsFor func(filename string) Observer) RunFunc {
	return func(ctx context.Context, doc Document) (*deck.Record, bool, error) {
		var obs Observer
		if obsFor != nil {
			obs = obsFor(doc.Filename)
		}
		process := func(ctx context.Context) (*deck.Record, error) {
			return d.Process(ctx, doc.Data, doc.Filename, obs)
		}
		switch {
		case guard == nil:
			rec, err := process(ctx)
			return rec, false, err
		case force:
			rec, err := guard.Force(ctx, doc.Filename, process)
			return rec, false, err
		default:
			return guard.Do(ctx, doc.Filename, process)
		}
	}
}
