package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiAnalyzer calls the Gemini API through the genai SDK
type GeminiAnalyzer struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiAnalyzer creates a Gemini client
func NewGeminiAnalyzer(ctx context.Context, cfg AnalyzerConfig) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini analyzer requires an API key")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	temperature := float32(cfg.Temperature)
	if temperature <= 0 {
		temperature = 0.2
	}

	return &GeminiAnalyzer{client: client, model: model, temperature: temperature}, nil
}

func (a *GeminiAnalyzer) Analyze(ctx context.Context, query, text string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(a.temperature),
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(BuildPrompt(query, text)), config)
	if err != nil {
		return "", &domain.AnalysisError{Err: fmt.Errorf("gemini generate content: %w", err)}
	}

	report := strings.TrimSpace(resp.Text())
	if report == "" {
		return "", &domain.AnalysisError{Err: errors.New("empty completion")}
	}
	return report, nil
}
