package pipeline

// Phase names a step of the document pipeline.
type Phase string

const (
	PhaseRasterizing  Phase = "rasterizing"
	PhaseAnalyzing    Phase = "analyzing"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseStoring      Phase = "storing"
	PhaseDelivering   Phase = "delivering"
)

// Observer receives progress callbacks. PageDone may be called from
// several goroutines at once.
type Observer interface {
	Phase(p Phase)
	PagesTotal(n int)
	PageDone(index int, err error)
}

type noopObserver struct{}

func (noopObserver) Phase(Phase)         {}
func (noopObserver) PagesTotal(int)      {}
func (noopObserver) PageDone(int, error) {}

func observerOrNoop(obs Observer) Observer {
	if obs == nil {
		return noopObserver{}
	}
	return obs
}
