package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/fabfab/rag-assistant/llm"
)

// SummaryFormat selects the shape of a summary.
type SummaryFormat string

const (
	FormatBrief      SummaryFormat = "brief"
	FormatParagraphs SummaryFormat = "paragraphs"
	FormatBullets    SummaryFormat = "bullets"

	// MaxSummaryInput bounds the characters sent for summarization.
	MaxSummaryInput = 10000
	DefaultLanguage = "English"
)

var summaryInstructions = map[SummaryFormat]string{
	FormatBrief:      "Summarize the document in 100 words",
	FormatParagraphs: "Summarize the document in 2 connecting paragraphs",
	FormatBullets:    "Summarize the document in 5 bullet points",
}

// ParseSummaryFormat accepts a format name; empty selects FormatBrief.
func ParseSummaryFormat(value string) (SummaryFormat, error) {
	format := SummaryFormat(strings.ToLower(strings.TrimSpace(value)))
	if format == "" {
		return FormatBrief, nil
	}
	if _, ok := summaryInstructions[format]; !ok {
		return "", fmt.Errorf("unknown summary format %q (want brief, paragraphs or bullets)", value)
	}
	return format, nil
}

type Summarizer struct {
	llm llm.Client
}

func NewSummarizer(client llm.Client) *Summarizer {
	return &Summarizer{llm: client}
}

// Summarize condenses text with a single completion call. Input longer than
// MaxSummaryInput characters is truncated first.
func (s *Summarizer) Summarize(ctx context.Context, text string, format SummaryFormat, language string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("nothing to summarize")
	}
	instruction, ok := summaryInstructions[format]
	if !ok {
		return "", fmt.Errorf("unknown summary format %q", format)
	}
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}

	prompt := fmt.Sprintf("Summarize the following web page content.\n%s\nOutput your response in %s.\n\nContent:\n%s\n",
		instruction, language, truncate(text, MaxSummaryInput))

	resp, err := s.llm.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
