// Package planner wraps the external generative planner behind a minimal
// completion interface. The validator drives it; nothing else in the core
// depends on a live model.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"taskloom/internal/config"
	"taskloom/internal/logging"
)

// Client is the completion interface the validation loop drives. Tests
// substitute a canned implementation.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GenAIClient implements Client against the Google GenAI API.
type GenAIClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGenAIClient creates a planner client from config. The API key must
// already be resolved (config layer handles env fallbacks).
func NewGenAIClient(ctx context.Context, cfg config.PlannerConfig) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("planner API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	return &GenAIClient{
		client:  client,
		model:   model,
		timeout: cfg.TimeoutDuration(),
	}, nil
}

// Complete sends one prompt and returns the raw text response.
func (c *GenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx,
		c.model,
		genai.Text(prompt),
		nil,
	)
	if err != nil {
		logging.Audit().PlannerCall(c.model, time.Since(start).Milliseconds(), false, err.Error())
		return "", fmt.Errorf("planner call failed: %w", err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		logging.Audit().PlannerCall(c.model, time.Since(start).Milliseconds(), false, "empty response")
		return "", fmt.Errorf("planner returned empty response")
	}

	logging.Audit().PlannerCall(c.model, time.Since(start).Milliseconds(), true, "")
	logging.PlannerDebug("Completion: %d chars in %s", len(text), time.Since(start))
	return text, nil
}

// CleanJSONResponse removes markdown code fences from a JSON response.
func CleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}
