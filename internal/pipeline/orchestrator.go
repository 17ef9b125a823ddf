package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/dgallion1/irdigest/internal/extract"
	"golang.org/x/sync/errgroup"
)

// PageSeparator joins page texts in the merged context.
const PageSeparator = "\n\n"

// FailurePolicy decides what a page that fails after retries does to the
// whole run.
type FailurePolicy string

const (
	// PolicyAbort cancels the remaining pages and fails the run.
	PolicyAbort FailurePolicy = "abort"
	// PolicyPlaceholder keeps going and marks the page as failed in its slot.
	PolicyPlaceholder FailurePolicy = "placeholder"
)

// Analyzer describes one page image.
type Analyzer interface {
	Analyze(ctx context.Context, index int, image []byte) (string, error)
}

// Synthesizer reduces the merged page text to the strategic summary.
type Synthesizer interface {
	Synthesize(ctx context.Context, pageText string) (string, error)
}

// PageFailure records a page that was replaced by a placeholder.
type PageFailure struct {
	Page int
	Err  error
}

// Result is the output of one orchestrated run.
type Result struct {
	PageText string
	Summary  string
	Failures []PageFailure
}

type OrchestratorConfig struct {
	Concurrency int
	Policy      FailurePolicy
	Retry       RetryPolicy
}

// Orchestrator fans page analysis out over a bounded pool, reassembles the
// results in page order, then runs synthesis once every page has settled.
type Orchestrator struct {
	analyzer Analyzer
	synth    Synthesizer
	cfg      OrchestratorConfig
	log      *slog.Logger
}

func NewOrchestrator(a Analyzer, s Synthesizer, cfg OrchestratorConfig, log *slog.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 15
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyAbort
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{analyzer: a, synth: s, cfg: cfg, log: log}
}

// Run analyzes pages and synthesizes the result. With zero pages the page
// text is empty and synthesis still runs.
func (o *Orchestrator) Run(ctx context.Context, pages []deck.Page, obs Observer) (Result, error) {
	obs = observerOrNoop(obs)
	obs.PagesTotal(len(pages))
	obs.Phase(PhaseAnalyzing)

	pageText, failures, err := o.analyzeAll(ctx, pages, obs)
	if err != nil {
		return Result{}, err
	}
	if len(failures) > 0 {
		o.log.Warn("pages replaced by placeholders", "failed", len(failures), "total", len(pages))
	}

	obs.Phase(PhaseSynthesizing)
	var summary string
	attempt := 0
	err = Retry(ctx, o.cfg.Retry, func(ctx context.Context) error {
		attempt++
		s, err := o.synth.Synthesize(ctx, pageText)
		if err != nil {
			o.log.Warn("synthesis attempt failed", "attempt", attempt, "error", err)
			return err
		}
		summary = s
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{PageText: pageText, Summary: summary, Failures: failures}, nil
}

type pageResult struct {
	index int
	text  string
}

func (o *Orchestrator) analyzeAll(ctx context.Context, pages []deck.Page, obs Observer) (string, []PageFailure, error) {
	results := make([]pageResult, len(pages))
	var (
		mu       sync.Mutex
		failures []PageFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, p := range pages {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			text, err := o.analyzePage(gctx, p)
			if !errors.Is(err, context.Canceled) {
				obs.PageDone(p.Index, err)
			}
			if err == nil {
				results[i] = pageResult{index: p.Index, text: text}
				return nil
			}
			if o.cfg.Policy != PolicyPlaceholder || ctx.Err() != nil {
				return err
			}
			results[i] = pageResult{index: p.Index, text: Placeholder(p.Index, err)}
			mu.Lock()
			failures = append(failures, PageFailure{Page: p.Index, Err: err})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	// Completion order is arbitrary; page order is not.
	sort.SliceStable(results, func(a, b int) bool { return results[a].index < results[b].index })
	sort.Slice(failures, func(a, b int) bool { return failures[a].Page < failures[b].Page })

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.text
	}
	return strings.Join(texts, PageSeparator), failures, nil
}

func (o *Orchestrator) analyzePage(ctx context.Context, p deck.Page) (string, error) {
	var text string
	attempt := 0
	err := Retry(ctx, o.cfg.Retry, func(ctx context.Context) error {
		attempt++
		t, err := o.analyzer.Analyze(ctx, p.Index, p.Image)
		if err != nil {
			if ctx.Err() == nil {
				o.log.Warn("page analysis attempt failed", "page", p.Index, "attempt", attempt, "error", err)
			}
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		var pe *extract.PageError
		if !errors.As(err, &pe) {
			err = &extract.PageError{Page: p.Index, Err: err}
		}
		return "", err
	}
	return text, nil
}

// Placeholder is the text a failed page contributes under
// PolicyPlaceholder.
func Placeholder(index int, err error) string {
	cause := err
	var pe *extract.PageError
	if errors.As(err, &pe) {
		cause = pe.Err
	}
	return fmt.Sprintf("## [Page %d] Analysis unavailable\n\n> ANALYSIS FAILED: %v", index, cause)
}
