// Package summary condenses call transcripts with Gemini.
package summary

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// EmptyTranscriptSummary is used when there is nothing to analyze.
const EmptyTranscriptSummary = "No transcript available for analysis."

const (
	temperature     = 0.3
	maxOutputTokens = 2048
	maxRawSummary   = 500
)

// Analysis is what a transcript boils down to.
type Analysis struct {
	Summary      string `json:"summary"`
	FollowUpDate string `json:"follow_up_date,omitempty"`
}

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Analyzer summarizes transcripts and extracts follow-up dates.
type Analyzer struct {
	gen Generator
	log zerolog.Logger
	now func() time.Time
}

// NewAnalyzer wraps any Generator.
func NewAnalyzer(gen Generator, logger zerolog.Logger) *Analyzer {
	return &Analyzer{gen: gen, log: logger, now: time.Now}
}

// NewGemini builds an Analyzer backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string, logger zerolog.Logger) (*Analyzer, error) {
	if apiKey == "" {
		return nil, errors.New("summary: gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return NewAnalyzer(&GeminiGenerator{client: client, model: model}, logger), nil
}

// Analyze summarizes transcript. An empty transcript short-circuits
// without calling the model.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) (*Analysis, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		a.log.Warn().Msg("Empty transcript, skipping analysis")
		return &Analysis{Summary: EmptyTranscriptSummary}, nil
	}

	text, err := a.gen.Generate(ctx, buildPrompt(transcript, a.now()))
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}

	analysis := parseAnalysis(text)
	a.log.Info().
		Int("response_chars", len(text)).
		Str("follow_up_date", analysis.FollowUpDate).
		Msg("Transcript analyzed")
	return analysis, nil
}

func buildPrompt(transcript string, today time.Time) string {
	return fmt.Sprintf(`Analyze the following call transcript and extract:

1. A concise summary (2-3 sentences max) of the key points discussed and the outcome.

2. Any follow-up date mentioned in the conversation. If a specific date is mentioned, return it. If a relative date such as "next week", "tomorrow" or "in 3 days" is mentioned, calculate the actual date given that today is %s.

Respond in exactly this format:
SUMMARY: <your summary here>
FOLLOW_UP_DATE: <YYYY-MM-DD or NONE if no follow-up date was mentioned>

Transcript:
%s`, today.Format(time.DateOnly), transcript)
}

var (
	summaryPattern  = regexp.MustCompile(`(?s)SUMMARY:\s*(.+?)(?:FOLLOW_UP_DATE:|$)`)
	followUpPattern = regexp.MustCompile(`(?i)FOLLOW_UP_DATE:\s*(\d{4}-\d{2}-\d{2}|NONE)`)
)

// parseAnalysis reads the SUMMARY / FOLLOW_UP_DATE lines. Without a
// SUMMARY line the raw response, truncated, becomes the summary.
func parseAnalysis(text string) *Analysis {
	text = strings.TrimSpace(text)
	analysis := &Analysis{}

	if m := summaryPattern.FindStringSubmatch(text); m != nil {
		analysis.Summary = strings.TrimSpace(m[1])
	} else {
		analysis.Summary = truncate(text, maxRawSummary)
	}

	if m := followUpPattern.FindStringSubmatch(text); m != nil && !strings.EqualFold(m[1], "NONE") {
		if _, err := time.Parse(time.DateOnly, m[1]); err == nil {
			analysis.FollowUpDate = m[1]
		}
	}
	return analysis
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// GeminiGenerator calls GenerateContent on one model.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// Generate returns the model's text response.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](temperature),
		MaxOutputTokens: maxOutputTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
