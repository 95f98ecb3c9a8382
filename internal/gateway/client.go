package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to an OpenAI-compatible model service for direct inference,
// asynchronous batches and embeddings.
type Client struct {
	client        *resty.Client
	baseURL       string
	embedClient   *resty.Client
	embedEndpoint string
	embedModel    string
	embedDims     int
}

// Config holds configuration for the model gateway client.
type Config struct {
	BaseURL             string
	APIKey              string
	EmbeddingBaseURL    string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDimensions int
	Timeout             time.Duration
}

// NewClient creates a new gateway client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	embedBase := cfg.EmbeddingBaseURL
	if embedBase == "" {
		embedBase = "https://api.jina.ai/v1"
	}
	embedKey := cfg.EmbeddingAPIKey
	if embedKey == "" {
		embedKey = cfg.APIKey
	}
	embedClient := resty.New()
	embedClient.SetHeader("Authorization", "Bearer "+embedKey)
	embedClient.SetHeader("Content-Type", "application/json")
	embedClient.SetTimeout(timeout)

	return &Client{
		client:        client,
		baseURL:       baseURL,
		embedClient:   embedClient,
		embedEndpoint: embedBase + "/embeddings",
		embedModel:    cfg.EmbeddingModel,
		embedDims:     cfg.EmbeddingDimensions,
	}
}

// OpenAI-compatible chat completion request/response structures
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string, or []interface{} for user with images
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imageContent struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// buildMessages assembles the chat payload: the prompt as a user text part
// followed by any image data URLs.
func buildMessages(prompt string, images []string) []chatMessage {
	if len(images) == 0 {
		return []chatMessage{{Role: "user", Content: prompt}}
	}
	parts := make([]interface{}, 0, len(images)+1)
	parts = append(parts, textContent{Type: "text", Text: prompt})
	for _, img := range images {
		parts = append(parts, imageContent{
			Type:     "image_url",
			ImageURL: imageURL{URL: img, Detail: "auto"},
		})
	}
	return []chatMessage{{Role: "user", Content: parts}}
}

// InferDirect performs one synchronous inference call and returns the raw
// model text. Callers parse the structured payload out of it.
func (c *Client) InferDirect(ctx context.Context, model, prompt string, images []string) (string, error) {
	req := chatRequest{
		Model:    model,
		Messages: buildMessages(prompt, images),
	}

	var resp chatResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("failed to call model API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return "", fmt.Errorf("model API returned error: %s", errorMsg)
	}

	if resp.Error != nil {
		return "", fmt.Errorf("model API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from model API (status: %d)", httpResp.StatusCode())
	}

	return resp.Choices[0].Message.Content, nil
}
