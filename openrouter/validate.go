package openrouter

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const validateConcurrency = 8

type ValidationResult struct {
	ModelID string `json:"model_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// ValidateModels checks every model concurrently. Results keep the order of
// modelIDs; a failing model never fails the batch.
func (c *Client) ValidateModels(ctx context.Context, modelIDs []string, apiKey string) []ValidationResult {
	results := make([]ValidationResult, len(modelIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(validateConcurrency)
	for i, id := range modelIDs {
		i, id := i, id
		g.Go(func() error {
			results[i] = ValidationResult{ModelID: id, Status: "ok"}
			if err := c.ValidateModel(gctx, id, apiKey); err != nil {
				results[i].Status = "error"
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
