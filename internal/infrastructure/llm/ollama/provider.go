// Package ollama is the local analysis provider. It runs persona prompts
// against an Ollama model and can fall back to the simulated provider.
package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/llm/findings"
)

const (
	Name = "local"

	// maxStageChunks caps model calls per persona on very long proposals.
	maxStageChunks = 3
)

type generator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
	Ping(ctx context.Context) bool
	Model() string
}

type thermalGuard interface {
	Wait(ctx context.Context) error
}

type Options struct {
	UseLLM        bool
	MultiStage    bool
	AllowFallback bool
}

type Provider struct {
	client   generator
	chunker  ports.Chunker
	guard    thermalGuard
	fallback ports.AnalysisProvider
	opts     Options
	logger   *slog.Logger
}

func NewProvider(
	client *Client,
	chunker ports.Chunker,
	guard thermalGuard,
	fallback ports.AnalysisProvider,
	opts Options,
	logger *slog.Logger,
) *Provider {
	return newProvider(client, chunker, guard, fallback, opts, logger)
}

func newProvider(
	client generator,
	chunker ports.Chunker,
	guard thermalGuard,
	fallback ports.AnalysisProvider,
	opts Options,
	logger *slog.Logger,
) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client:   client,
		chunker:  chunker,
		guard:    guard,
		fallback: fallback,
		opts:     opts,
		logger:   logger,
	}
}

func (p *Provider) Name() string {
	if p.opts.UseLLM {
		return "Local (" + p.client.Model() + ")"
	}
	return "Local (simulated)"
}

func (p *Provider) IsAvailable(ctx context.Context) bool {
	if !p.opts.UseLLM {
		return p.fallback != nil
	}
	return p.client.Ping(ctx)
}

func (p *Provider) AnalyzeDocument(ctx context.Context, input domain.AnalysisInput) (*domain.ComplianceResults, error) {
	if p.guard != nil {
		if err := p.guard.Wait(ctx); err != nil {
			return nil, domain.NewAnalysisError(Name, "thermal cool-down interrupted", err)
		}
	}

	if p.opts.UseLLM {
		results, err := p.analyzeWithModel(ctx, input)
		if err == nil {
			return results, nil
		}
		if !p.opts.AllowFallback || p.fallback == nil {
			return nil, err
		}
		p.logger.Warn("local_model_failed_using_fallback",
			"session_id", input.SessionID,
			"document_id", input.DocumentID,
			"error", err,
		)
	}

	if p.fallback == nil {
		return nil, domain.NewAnalysisError(Name, "local model disabled and no fallback configured", nil)
	}
	results, err := p.fallback.AnalyzeDocument(ctx, input)
	if err != nil {
		return nil, err
	}
	results.Metadata["local_mode"] = true
	return results, nil
}

func (p *Provider) analyzeWithModel(ctx context.Context, input domain.AnalysisInput) (*domain.ComplianceResults, error) {
	started := time.Now()
	opts := findings.Options{
		IDPrefix:   Name,
		SessionID:  input.SessionID,
		DocumentID: input.DocumentID,
		Model:      p.client.Model(),
	}

	var (
		results *domain.ComplianceResults
		err     error
		stages  []string
	)
	if p.opts.MultiStage {
		results, stages, err = p.runStages(ctx, input, opts)
	} else {
		results, err = p.runOnce(ctx, "", input.Text, input, opts)
	}
	if err != nil {
		return nil, err
	}

	results.ProcessingTime = time.Since(started).Seconds()
	results.Metadata["analysis_type"] = "local_ai"
	results.Metadata["model"] = p.client.Model()
	results.Metadata["multi_stage"] = p.opts.MultiStage
	if len(stages) > 0 {
		results.Metadata["stages"] = stages
	}
	return results, nil
}

func (p *Provider) runOnce(ctx context.Context, persona, text string, input domain.AnalysisInput, opts findings.Options) (*domain.ComplianceResults, error) {
	raw, err := p.client.GenerateJSON(ctx, findings.BuildPrompt(persona, input.Filename, input.Frameworks, text))
	if err != nil {
		return nil, domain.NewAnalysisError(Name, "model call", err)
	}
	results, err := findings.Parse(raw, opts)
	if err != nil {
		return nil, domain.NewAnalysisError(Name, "parse response", err)
	}
	return results, nil
}

// runStages runs every persona over the leading chunks and concatenates
// their findings. Any failed call fails the whole analysis.
func (p *Provider) runStages(ctx context.Context, input domain.AnalysisInput, opts findings.Options) (*domain.ComplianceResults, []string, error) {
	chunks := []string{input.Text}
	if p.chunker != nil {
		if split := p.chunker.Split(input.Text); len(split) > 0 {
			chunks = split
		}
	}
	if len(chunks) > maxStageChunks {
		chunks = chunks[:maxStageChunks]
	}

	var (
		base   *domain.ComplianceResults
		parts  []*domain.ComplianceResults
		stages []string
	)
	for _, persona := range personas {
		for i, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return nil, nil, domain.NewAnalysisError(Name, "context done", err)
			}
			stageOpts := opts
			stageOpts.IDPrefix = fmt.Sprintf("%s_%s_%d", opts.IDPrefix, persona.Key, i)
			part, err := p.runOnce(ctx, persona.Prompt, chunk, input, stageOpts)
			if err != nil {
				return nil, nil, err
			}
			if base == nil {
				base = part
			} else {
				parts = append(parts, part)
			}
		}
		stages = append(stages, persona.Key)
	}

	merged := findings.Merge(base, parts...)
	merged.ID = fmt.Sprintf("%s_%s_%d", Name, input.DocumentID, merged.GeneratedAt.Unix())
	return merged, stages, nil
}
