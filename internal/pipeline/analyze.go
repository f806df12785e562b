package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"golang.org/x/time/rate"
)

const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

const systemPrompt = "You are a Senior Financial Analyst, an experienced CFA specializing in " +
	"financial analysis, valuation and investment research. Analyze financial documents " +
	"and provide investment insights."

const promptTemplate = `Analyze the financial document below.

User request:
%s

Provide:
1. Company financial health
2. Revenue & profit trends
3. Key risk factors
4. Investment recommendation

Return structured financial insights.

Document:
%s`

// Analyzer produces a report answering query over document text.
// Failures are returned as *domain.AnalysisError.
type Analyzer interface {
	Analyze(ctx context.Context, query, text string) (string, error)
}

// BuildPrompt renders the user prompt sent to every provider
func BuildPrompt(query, text string) string {
	return fmt.Sprintf(promptTemplate, query, text)
}

// AnalyzerConfig selects and configures the analysis provider
type AnalyzerConfig struct {
	Provider          string
	Model             string
	BaseURL           string
	APIKey            string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
	Burst             int
}

// NewAnalyzer builds the configured provider behind a rate limiter
func NewAnalyzer(ctx context.Context, cfg AnalyzerConfig, logger *slog.Logger) (Analyzer, error) {
	var (
		inner Analyzer
		err   error
	)

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGroq:
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultGroqBaseURL
		}
		inner = NewOpenAIAnalyzer(cfg)
	case ProviderOpenAI:
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultOpenAIBaseURL
		}
		inner = NewOpenAIAnalyzer(cfg)
	case ProviderGemini:
		inner, err = NewGeminiAnalyzer(ctx, cfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown analyzer provider %q", cfg.Provider)
	}

	logger.Info("Analyzer initialized",
		slog.String("provider", cfg.Provider),
		slog.String("model", cfg.Model),
		slog.Int("requests_per_minute", cfg.RequestsPerMinute),
	)

	return NewLimitedAnalyzer(inner, cfg.RequestsPerMinute, cfg.Burst), nil
}

// LimitedAnalyzer throttles calls to a provider
type LimitedAnalyzer struct {
	inner   Analyzer
	limiter *rate.Limiter
}

// NewLimitedAnalyzer allows requestsPerMinute calls; zero or less disables the limit
func NewLimitedAnalyzer(inner Analyzer, requestsPerMinute, burst int) *LimitedAnalyzer {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	return &LimitedAnalyzer{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (a *LimitedAnalyzer) Analyze(ctx context.Context, query, text string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", &domain.AnalysisError{Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	report, err := a.inner.Analyze(ctx, query, text)
	if err != nil {
		var analysisErr *domain.AnalysisError
		if errors.As(err, &analysisErr) {
			return "", err
		}
		return "", &domain.AnalysisError{Err: err}
	}
	return report, nil
}
