package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Synthesizer produces the 7-criterion report from merged page text.
type Synthesizer struct {
	gen       Generator
	maxTokens int
	log       *slog.Logger
}

// NewSynthesizer creates a synthesizer. maxTokens <= 0 disables the
// context ceiling.
func NewSynthesizer(gen Generator, maxTokens int, log *slog.Logger) *Synthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{gen: gen, maxTokens: maxTokens, log: log}
}

func (s *Synthesizer) Synthesize(ctx context.Context, pageText string) (string, error) {
	prompt := BuildSynthesisPrompt(pageText)
	if s.maxTokens > 0 {
		if est := EstimateTokens(prompt); est > s.maxTokens {
			return "", &ContextTooLargeError{EstimatedTokens: est, LimitTokens: s.maxTokens}
		}
	}

	text, err := s.gen.Generate(ctx, Request{Kind: KindSynthesis, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("synthesis: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("synthesis: %w", ErrEmptyResponse)
	}

	if missing := CheckCriteria(text); len(missing) > 0 {
		s.log.Warn("synthesis missing criteria sections", "missing", missing)
	}
	return text, nil
}
