package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/infrastructure/resilience"
)

const availabilityTimeout = 2 * time.Second

// Client talks to an Ollama server. Generation calls go through the
// resilience executor; availability probes do not.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

func New(baseURL, model string, timeout time.Duration, executor *resilience.Executor, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
		logger:     logger,
	}
}

func (c *Client) Model() string { return c.model }

// Ping reports whether GET /api/tags answers 200 within two seconds.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("ollama_unreachable", "url", c.baseURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GenerateJSON asks the model for a JSON reply and returns the raw text.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0.1,
		},
	}

	call := func(ctx context.Context) (string, error) {
		var response struct {
			Response string `json:"response"`
		}
		if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
			return "", err
		}
		return strings.TrimSpace(response.Response), nil
	}

	var (
		out string
		err error
	)
	if c.executor == nil {
		out, err = call(ctx)
	} else {
		out, err = resilience.Do(ctx, c.executor, "ollama.generate", call, classifyOllamaError)
	}
	if err != nil {
		return "", classifyGenerateFailure("ollama.generate", err)
	}
	if out == "" {
		return "", fmt.Errorf("ollama generate returned empty response")
	}
	return out, nil
}
