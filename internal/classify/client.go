package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes caps how much of a completion response is read.
const maxResponseBytes = 1 << 20

// completionRequest is the body of POST {base}/completion.
type completionRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	NPredict    int     `json:"n_predict"`
	MaxTokens   int     `json:"max_tokens"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// completionClient talks to a llama.cpp style completion endpoint.
type completionClient struct {
	baseURL   string
	maxTokens int
	client    *http.Client
}

// complete sends prompt and returns the generated text.
func (c *completionClient) complete(ctx context.Context, prompt string) (string, error) {
	bodyBytes, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		Temperature: 0,
		NPredict:    c.maxTokens,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling completion API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("completion API error (%d)", resp.StatusCode)
	}

	var result completionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return result.Content, nil
}
