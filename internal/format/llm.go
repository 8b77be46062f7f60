package format

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hammamikhairi/wisprd/internal/logger"
)

// Message is one chat turn sent to the local LM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// ClientOption configures an LLMClient.
type ClientOption func(*LLMClient)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) ClientOption {
	return func(c *LLMClient) { c.temperature = t }
}

// WithMaxTokens bounds generation length (spec §4.D: <= 512 tokens).
func WithMaxTokens(n int) ClientOption {
	return func(c *LLMClient) { c.maxTokens = n }
}

// WithHTTPTimeout sets the HTTP client timeout.
func WithHTTPTimeout(d time.Duration) ClientOption {
	return func(c *LLMClient) { c.http.Timeout = d }
}

// LLMClient talks to a local Ollama-compatible chat endpoint, the
// domain-stack's local-inference leg of the Text Post-Formatter (§4.D).
// Adapted from the teacher's OpenAI-compatible chat client: same
// functional-options shape and request/response split, pointed at
// Ollama's /api/chat instead of an Azure deployment URL.
type LLMClient struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	http        *http.Client
	log         *logger.Logger
}

// NewLLMClient creates a client against baseURL (e.g.
// "http://localhost:11434", the settings document's ollama_base_url).
func NewLLMClient(baseURL, model string, log *logger.Logger, opts ...ClientOption) *LLMClient {
	c := &LLMClient{
		baseURL:     baseURL,
		model:       model,
		temperature: 0.1,
		maxTokens:   512,
		http:        &http.Client{Timeout: 15 * time.Second},
		log:         log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Chat sends a bounded-length chat completion request and returns the
// reply's content. An empty reply is not an error; callers fall back to
// the raw transcript on an empty string (spec §4.D).
func (c *LLMClient) Chat(ctx context.Context, messages []Message) (string, error) {
	body := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options: map[string]any{
			"temperature": c.temperature,
			"num_predict": c.maxTokens,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("format: marshal llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("format: create llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("format: POST %s/api/chat (%d bytes)", c.baseURL, len(data))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("format: llm request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("format: read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("format: llm API %s: %s", resp.Status, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("format: unmarshal llm response: %w", err)
	}

	reply := result.Message.Content
	c.log.Debug("format: llm reply (%d chars)", len(reply))
	return reply, nil
}
