package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
)

const (
	DefaultGroqBaseURL   = "https://api.groq.com/openai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "llama-3.1-8b-instant"
)

// OpenAIAnalyzer calls an OpenAI-compatible chat completions endpoint
// (Groq, OpenAI, Ollama /v1)
type OpenAIAnalyzer struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
}

// NewOpenAIAnalyzer creates a chat completions client
func NewOpenAIAnalyzer(cfg AnalyzerConfig) *OpenAIAnalyzer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.2
	}

	return &OpenAIAnalyzer{
		client:      &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: temperature,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, query, text string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(query, text)},
		},
		Temperature: a.temperature,
	})
	if err != nil {
		return "", &domain.AnalysisError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &domain.AnalysisError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &domain.AnalysisError{Err: fmt.Errorf("failed to call %s: %w", a.baseURL, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &domain.AnalysisError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &domain.AnalysisError{Err: fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(body), 1024))}
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &domain.AnalysisError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if result.Error != nil {
		return "", &domain.AnalysisError{Err: errors.New(result.Error.Message)}
	}
	if len(result.Choices) == 0 {
		return "", &domain.AnalysisError{Err: errors.New("no choices in response")}
	}

	report := strings.TrimSpace(result.Choices[0].Message.Content)
	if report == "" {
		return "", &domain.AnalysisError{Err: errors.New("empty completion")}
	}
	return report, nil
}
