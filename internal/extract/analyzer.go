package extract

import (
	"context"
	"strings"
)

// PageAnalyzer turns one page image into a detailed text description.
// It does not retry; callers own retry policy.
type PageAnalyzer struct {
	gen Generator
}

func NewPageAnalyzer(gen Generator) *PageAnalyzer {
	return &PageAnalyzer{gen: gen}
}

// Analyze sends the page image with its index-specific prompt. Every
// failure, including an empty answer, is returned as a *PageError.
func (a *PageAnalyzer) Analyze(ctx context.Context, index int, image []byte) (string, error) {
	text, err := a.gen.Generate(ctx, Request{
		Kind:     KindPage,
		Prompt:   PagePrompt(index),
		Image:    image,
		MIMEType: "image/jpeg",
	})
	if err != nil {
		return "", &PageError{Page: index, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return "", &PageError{Page: index, Err: ErrEmptyResponse}
	}
	return text, nil
}
