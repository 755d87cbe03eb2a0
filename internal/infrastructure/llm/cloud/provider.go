// Package cloud analyzes documents with an OpenAI-compatible chat API.
package cloud

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/llm/findings"
)

const (
	Name         = "cloud"
	defaultModel = "gpt-4o-mini"
	maxTokens    = 4096
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type Provider struct {
	client *openai.Client
	model  string
	apiKey string
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Provider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		logger: logger,
	}
}

func (p *Provider) Name() string { return "Cloud (" + p.model + ")" }

// IsAvailable requires a key and a reachable models endpoint.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	if strings.TrimSpace(p.apiKey) == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.client.ListModels(ctx); err != nil {
		p.logger.Debug("cloud_provider_unavailable", "error", err)
		return false
	}
	return true
}

func (p *Provider) AnalyzeDocument(ctx context.Context, input domain.AnalysisInput) (*domain.ComplianceResults, error) {
	started := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You review federal contract proposals for regulatory compliance and answer in JSON."},
			{Role: openai.ChatMessageRoleUser, Content: findings.BuildPrompt("", input.Filename, input.Frameworks, input.Text)},
		},
	}
	if isReasoningModel(p.model) {
		req.MaxCompletionTokens = maxTokens
		req.Temperature = 0
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, domain.NewAnalysisError(Name, "chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewAnalysisError(Name, "empty completion", nil)
	}

	results, err := findings.Parse(resp.Choices[0].Message.Content, findings.Options{
		IDPrefix:   Name,
		SessionID:  input.SessionID,
		DocumentID: input.DocumentID,
		Model:      p.model,
	})
	if err != nil {
		return nil, domain.NewAnalysisError(Name, "parse response", err)
	}

	results.ProcessingTime = time.Since(started).Seconds()
	results.Metadata["analysis_type"] = "cloud_ai"
	results.Metadata["model"] = p.model
	results.Metadata["document_filename"] = input.Filename
	if resp.Usage.TotalTokens > 0 {
		results.Metadata["total_tokens"] = resp.Usage.TotalTokens
	}
	return results, nil
}

// Reasoning models reject max_tokens and non-default temperature.
func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
