package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/pkg/redact"
)

const (
	DefaultMaxTokens        = 2048
	DefaultMaxDocumentChars = 20000
	DefaultGenerateAttempts = 3
	DefaultGenerateBackoff  = 10 * time.Second

	maxGenerateBackoff = 2 * time.Minute
)

// Lead is the part of a work item the analyzer needs.
type Lead struct {
	Name string
	URL  string
}

// Result is the text written to a result row.
type Result struct {
	Analysis   string
	Followup   string
	PreviewURL string
}

// AnalyzerOptions configures an Analyzer.
type AnalyzerOptions struct {
	Fetcher   Fetcher
	Generator Generator

	MaxTokens        int
	MaxDocumentChars int
	// PreviewURLTemplate may contain "{slug}", e.g. "https://preview.example.com/{slug}".
	PreviewURLTemplate string

	// GenerateAttempts bounds calls per prompt when the generator is unavailable.
	GenerateAttempts int
	GenerateBackoff  time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
}

// Analyzer fetches a lead's site and runs the two-step generation chain:
// an analysis of the page, then a followup brief built from that analysis.
type Analyzer struct {
	fetcher   Fetcher
	generator Generator

	maxTokens   int
	maxDocChars int
	previewTmpl string
	attempts    int
	backoff     time.Duration

	clock  clock.Clock
	logger *zap.Logger
}

func NewAnalyzer(opts AnalyzerOptions) (*Analyzer, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("analyzer: fetcher is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("analyzer: generator is required")
	}
	a := &Analyzer{
		fetcher:     opts.Fetcher,
		generator:   opts.Generator,
		maxTokens:   opts.MaxTokens,
		maxDocChars: opts.MaxDocumentChars,
		previewTmpl: opts.PreviewURLTemplate,
		attempts:    opts.GenerateAttempts,
		backoff:     opts.GenerateBackoff,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
	if a.maxTokens <= 0 {
		a.maxTokens = DefaultMaxTokens
	}
	if a.maxDocChars <= 0 {
		a.maxDocChars = DefaultMaxDocumentChars
	}
	if a.attempts <= 0 {
		a.attempts = DefaultGenerateAttempts
	}
	if a.backoff <= 0 {
		a.backoff = DefaultGenerateBackoff
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a, nil
}

// Analyze runs fetch, analysis and followup for one lead.
func (a *Analyzer) Analyze(ctx context.Context, lead Lead) (Result, error) {
	doc, err := a.fetcher.Fetch(ctx, lead.URL)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(doc.URL) == "" {
		doc.URL = lead.URL
	}

	prompt, err := AnalysisPrompt(lead.Name, doc, a.maxDocChars)
	if err != nil {
		return Result{}, err
	}
	analysis, err := a.generate(ctx, "analysis", prompt)
	if err != nil {
		return Result{}, err
	}

	prompt, err = FollowupPrompt(lead.Name, analysis)
	if err != nil {
		return Result{}, err
	}
	followup, err := a.generate(ctx, "followup", prompt)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Analysis:   analysis,
		Followup:   followup,
		PreviewURL: PreviewURL(a.previewTmpl, lead.Name),
	}, nil
}

func (a *Analyzer) generate(ctx context.Context, step, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < a.attempts; attempt++ {
		out, err := a.generator.Generate(ctx, prompt, a.maxTokens)
		if err == nil {
			out = strings.TrimSpace(out)
			if out == "" {
				return "", fmt.Errorf("%s: generator returned empty text", step)
			}
			return out, nil
		}
		lastErr = err

		var unavailable *ServiceUnavailableError
		if !errors.As(err, &unavailable) || attempt == a.attempts-1 {
			break
		}
		wait := backoffSleep(a.backoff, maxGenerateBackoff, attempt)
		a.logger.Warn("text generation unavailable, retrying",
			zap.String("step", step),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.String("err", redact.Secrets(err.Error())),
		)
		if err := a.clock.Sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: %w", step, lastErr)
}

func backoffSleep(initial, max time.Duration, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
		}
	}
	return sleep
}
