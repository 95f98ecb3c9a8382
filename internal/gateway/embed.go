package gateway

import (
	"context"
	"fmt"
)

type embedRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

// EmbedBatch generates embeddings for multiple texts, returned in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := embedRequest{
		Model:         c.embedModel,
		Task:          "retrieval.passage",
		Dimensions:    c.embedDims,
		Input:         texts,
		EmbeddingType: "float",
	}

	var resp embedResponse
	httpResp, err := c.embedClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(c.embedEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("embedding API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("embedding API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), len(texts))
	}

	// Sort by index to ensure correct order
	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}

	return embeddings, nil
}
