package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tailored-agentic-units/empath/core/protocol"
	"github.com/tailored-agentic-units/empath/observability"
)

// chatRequest is the OpenAI-compatible chat completions request body.
type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []protocol.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

// chatResponse covers both batch choices and streaming delta chunks.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAIBackend calls one model on an OpenAI-compatible chat completions
// endpoint. It carries no retry logic of its own; failure handling belongs
// to the cascade.
type OpenAIBackend struct {
	model       string
	baseURL     string
	apiKey      string
	maxTokens   int
	temperature float64
	topP        float64
	timeout     time.Duration
	client      *http.Client
}

// NewOpenAIBackend creates a backend for one named model. A nil client
// falls back to a client without timeout: streaming responses are bounded
// by context, not the transport.
func NewOpenAIBackend(cfg Config, model string, client *http.Client) *OpenAIBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIBackend{
		model:       model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		client:      client,
	}
}

func (b *OpenAIBackend) Name() string {
	return b.model
}

func (b *OpenAIBackend) Complete(ctx context.Context, messages []protocol.Message) (string, error) {
	// Bound batch calls when the caller supplied no deadline. Streaming
	// stays unbounded; it is cancelled through the turn context instead.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	resp, err := b.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", b.model, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%s: api error: %s", b.model, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", b.model)
	}
	return parsed.Choices[0].Message.Content, nil
}

// Stream performs the request synchronously so construction failures
// (transport, non-200) surface before any delta, letting the cascade
// advance. A scanner goroutine then feeds the delta channel.
func (b *OpenAIBackend) Stream(ctx context.Context, messages []protocol.Message) (*Stream, error) {
	resp, err := b.post(ctx, messages, true)
	if err != nil {
		return nil, err
	}

	deltas := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				return
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				errc <- fmt.Errorf("%s: api error: %s", b.model, chunk.Error.Message)
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}

			select {
			case deltas <- delta:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errc <- fmt.Errorf("%s: stream read: %w", b.model, err)
		}
	}()

	return NewStream(b.model, deltas, errc), nil
}

func (b *OpenAIBackend) post(ctx context.Context, messages []protocol.Message, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
		TopP:        b.topP,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", b.model, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", b.model, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", b.model, err)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%s: status %d: %s", b.model, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return resp, nil
}

// Config holds generation cascade parameters.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint shared by all models.
	BaseURL string `json:"base_url,omitempty"`
	// APIKey authorizes requests; usually injected from the environment.
	APIKey string `json:"api_key,omitempty"`
	// Models is the ordered fallback list, best quality first.
	Models []string `json:"models,omitempty"`
	// MaxTokens bounds each response, default 300.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Temperature defaults to 0.8.
	Temperature float64 `json:"temperature,omitempty"`
	// TopP defaults to 0.92.
	TopP float64 `json:"top_p,omitempty"`
	// TimeoutSeconds bounds non-streaming calls, default 60.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// DefaultConfig returns the default generation configuration: the four-model
// fallback ladder, best quality first.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://router.huggingface.co/v1",
		Models: []string{
			"meta-llama/Llama-3.3-70B-Instruct",
			"meta-llama/Llama-3.2-3B-Instruct",
			"mistralai/Mistral-7B-Instruct-v0.3",
			"microsoft/Phi-3.5-mini-instruct",
		},
		MaxTokens:      300,
		Temperature:    0.8,
		TopP:           0.92,
		TimeoutSeconds: 60,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.APIKey != "" {
		c.APIKey = source.APIKey
	}
	if len(source.Models) > 0 {
		c.Models = source.Models
	}
	if source.MaxTokens > 0 {
		c.MaxTokens = source.MaxTokens
	}
	if source.Temperature > 0 {
		c.Temperature = source.Temperature
	}
	if source.TopP > 0 {
		c.TopP = source.TopP
	}
	if source.TimeoutSeconds > 0 {
		c.TimeoutSeconds = source.TimeoutSeconds
	}
}

// NewCascadeFromConfig builds one OpenAIBackend per configured model, in
// order, sharing a single HTTP client.
func NewCascadeFromConfig(cfg Config, observer observability.Observer) *Cascade {
	client := &http.Client{}
	backends := make([]Backend, len(cfg.Models))
	for i, model := range cfg.Models {
		backends[i] = NewOpenAIBackend(cfg, model, client)
	}
	return NewCascade(observer, backends...)
}
