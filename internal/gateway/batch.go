package gateway

import (
	"context"
	"fmt"
)

// BatchState is the lifecycle state of a submitted batch.
type BatchState string

const (
	BatchQueued     BatchState = "queued"
	BatchValidating BatchState = "validating"
	BatchInProgress BatchState = "in_progress"
	BatchFinalizing BatchState = "finalizing"
	BatchCompleted  BatchState = "completed"
	BatchFailed     BatchState = "failed"
	BatchExpired    BatchState = "expired"
)

// Running reports whether the batch is still being processed and should keep
// being polled.
func (s BatchState) Running() bool {
	switch s {
	case BatchQueued, BatchValidating, BatchInProgress, BatchFinalizing:
		return true
	}
	return false
}

// BatchRequest is one sub-request within a batch. CustomID carries the
// composite photo-id key used to map results back.
type BatchRequest struct {
	CustomID string
	Model    string
	Prompt   string
	Images   []string
}

// BatchResult is the raw model output for one sub-request.
type BatchResult struct {
	CustomID string
	Content  string
}

type batchSubmitRequest struct {
	Requests []batchWireRequest `json:"requests"`
}

type batchWireRequest struct {
	CustomID string      `json:"custom_id"`
	Body     chatRequest `json:"body"`
}

type batchStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type batchResultsResponse struct {
	Results []struct {
		CustomID string       `json:"custom_id"`
		Response chatResponse `json:"response"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// SubmitBatch submits a batch of sub-requests and returns the provider's
// batch id.
func (c *Client) SubmitBatch(ctx context.Context, requests []BatchRequest) (string, error) {
	wire := batchSubmitRequest{Requests: make([]batchWireRequest, 0, len(requests))}
	for _, req := range requests {
		wire.Requests = append(wire.Requests, batchWireRequest{
			CustomID: req.CustomID,
			Body: chatRequest{
				Model:    req.Model,
				Messages: buildMessages(req.Prompt, req.Images),
			},
		})
	}

	var resp batchStatusResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(wire).
		SetResult(&resp).
		Post(c.baseURL + "/batches")
	if err != nil {
		return "", fmt.Errorf("failed to submit batch: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return "", fmt.Errorf("batch submit returned HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("batch submit returned HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
	}
	if resp.ID == "" {
		return "", fmt.Errorf("batch submit returned no batch id")
	}

	return resp.ID, nil
}

// PollBatchStatus retrieves the current state of a submitted batch.
func (c *Client) PollBatchStatus(ctx context.Context, batchID string) (BatchState, error) {
	var resp batchStatusResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get(c.baseURL + "/batches/" + batchID)
	if err != nil {
		return "", fmt.Errorf("failed to poll batch %s: %w", batchID, err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return "", fmt.Errorf("batch status returned HTTP %d", httpResp.StatusCode())
	}

	return BatchState(resp.Status), nil
}

// FetchBatchResults retrieves the raw per-sub-request results of a completed
// batch.
func (c *Client) FetchBatchResults(ctx context.Context, batchID string) ([]BatchResult, error) {
	var resp batchResultsResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get(c.baseURL + "/batches/" + batchID + "/results")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch %s results: %w", batchID, err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return nil, fmt.Errorf("batch results returned HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return nil, fmt.Errorf("batch results returned HTTP %d", httpResp.StatusCode())
	}

	results := make([]BatchResult, 0, len(resp.Results))
	for _, item := range resp.Results {
		content := ""
		if len(item.Response.Choices) > 0 {
			content = item.Response.Choices[0].Message.Content
		}
		results = append(results, BatchResult{
			CustomID: item.CustomID,
			Content:  content,
		})
	}
	return results, nil
}
