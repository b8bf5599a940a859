package loadgen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CompletionRequest is the OpenAI-compatible completion request
type CompletionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

// completionChunk is one streamed SSE event of a completion response
type completionChunk struct {
	Choices []struct {
		Text         string `json:"text"`
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// ModelsResponse is the response from the /v1/models endpoint
type ModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// CompletionStats are the per-request measurements of one streamed completion.
type CompletionStats struct {
	TTFT             time.Duration
	Latency          time.Duration
	CompletionTokens int
}

// Client issues completion requests against one inference server.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates a client for the given server base URL.
// A zero timeout means requests are bounded only by their context.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

// DiscoverModel queries /v1/models and pins the client to the first model.
// No-op when a model was configured explicitly.
func (c *Client) DiscoverModel(ctx context.Context) error {
	if c.model != "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status from /v1/models: %d", resp.StatusCode)
	}

	var models ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return err
	}
	if len(models.Data) == 0 {
		return fmt.Errorf("no models available")
	}

	c.model = models.Data[0].ID
	return nil
}

// Model returns the model ID the client sends requests for
func (c *Client) Model() string {
	return c.model
}

// Complete sends one streaming completion request and measures time to
// first token, total latency, and the number of completion tokens.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (CompletionStats, error) {
	body, err := json.Marshal(CompletionRequest{
		Model:     c.model,
		Prompt:    prompt,
		MaxTokens: maxTokens,
		Stream:    true,
	})
	if err != nil {
		return CompletionStats{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return CompletionStats{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return CompletionStats{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CompletionStats{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var stats CompletionStats
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Text != "" {
			if stats.TTFT == 0 {
				stats.TTFT = time.Since(start)
			}
			stats.CompletionTokens++
		}
		// Servers reporting usage override the chunk count
		if chunk.Usage != nil && chunk.Usage.CompletionTokens > 0 {
			stats.CompletionTokens = chunk.Usage.CompletionTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return CompletionStats{}, fmt.Errorf("stream read failed: %w", err)
	}

	stats.Latency = time.Since(start)
	if stats.CompletionTokens == 0 {
		return stats, fmt.Errorf("empty completion stream")
	}
	return stats, nil
}
