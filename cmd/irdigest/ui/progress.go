package ui

import (
	"fmt"
	"sync"

	"github.com/dgallion1/irdigest/internal/pipeline"
	"github.com/schollz/progressbar/v3"
)

// PageProgress renders pipeline callbacks for one document as a page
// progress bar. It satisfies pipeline.Observer.
type PageProgress struct {
	name string

	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	failed int
}

func NewPageProgress(name string) *PageProgress {
	return &PageProgress{name: name}
}

func (p *PageProgress) Phase(ph pipeline.Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Describe(fmt.Sprintf("%s: %s", p.name, ph))
		return
	}
	Info("%s: %s", p.name, ph)
}

func (p *PageProgress) PagesTotal(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar = progressbar.NewOptions(n,
		progressbar.OptionSetWriter(errOut),
		progressbar.OptionSetDescription(fmt.Sprintf("%s: analyzing", p.name)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(errOut, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (p *PageProgress) PageDone(index int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failed++
	}
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// Finish closes the bar. Safe to call when no pages were reported.
func (p *PageProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Failed is the number of pages reported as failed.
func (p *PageProgress) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}
