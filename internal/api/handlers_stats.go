package api

import (
	"encoding/json"
	"net/http"

	"github.com/dgallion1/irdigest/internal/extract"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	llm := s.deps.LLM
	if llm == nil || llm.Stats == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	byKind := map[string]extract.StatsSnapshot{}
	for _, k := range llm.Stats.Kinds() {
		byKind[k] = llm.Stats.Snapshot(k)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":   llm.Model(),
		"overall": llm.Stats.Snapshot(""),
		"by_kind": byKind,
	})
}
