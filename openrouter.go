package facttrace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// jsonMaxRetries bounds how often QueryJSON re-prompts for valid JSON.
const jsonMaxRetries = 3

// ChatMessage is one message in a chat-completions request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the OpenRouter chat-completions request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// chatResponse is the subset of the chat-completions response we use.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// QueryModel sends a system/user prompt pair to a single model via the
// OpenRouter API and returns the model's text response.
func QueryModel(ctx context.Context, model, systemPrompt, userPrompt string, timeout time.Duration) (string, error) {
	client := &http.Client{
		Timeout: timeout,
	}

	payload := chatRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", OpenRouterAPIURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+OpenRouterAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResponse chatResponse
	if err := json.Unmarshal(bodyBytes, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(apiResponse.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return strings.TrimSpace(apiResponse.Choices[0].Message.Content), nil
}

// QueryPair runs two prompt pairs against the same model in parallel.
// Both must succeed.
func QueryPair(ctx context.Context, model, systemA, userA, systemB, userB string) (string, string, error) {
	g, ctx := errgroup.WithContext(ctx)

	var responseA, responseB string
	g.Go(func() error {
		var err error
		responseA, err = QueryModel(ctx, model, systemA, userA, ModelQueryTimeout)
		return err
	})
	g.Go(func() error {
		var err error
		responseB, err = QueryModel(ctx, model, systemB, userB, ModelQueryTimeout)
		return err
	})

	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return responseA, responseB, nil
}

// QueryJSON asks a model for a JSON object and unmarshals it into out.
// Markdown fences are stripped; on a parse failure the model is re-prompted
// with an explicit only-JSON instruction, up to jsonMaxRetries attempts.
func QueryJSON(ctx context.Context, model, systemPrompt, userPrompt string, out any) error {
	currentPrompt := userPrompt

	for attempt := 1; attempt <= jsonMaxRetries; attempt++ {
		content, err := QueryModel(ctx, model, systemPrompt, currentPrompt, ModelQueryTimeout)
		if err != nil {
			return err
		}

		cleaned := stripMarkdownFences(content)
		if err := json.Unmarshal([]byte(cleaned), out); err == nil {
			return nil
		} else {
			log.Printf("JSON parse failed (attempt %d): %v", attempt, err)
		}

		currentPrompt = userPrompt + "\n\nERROR: Previous response was not valid JSON. Return ONLY valid JSON."
	}

	return fmt.Errorf("no valid JSON after %d attempts", jsonMaxRetries)
}

// stripMarkdownFences removes a surrounding ```json / ``` fence if present.
func stripMarkdownFences(content string) string {
	cleaned := strings.TrimSpace(content)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[len("```json"):]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[len("```"):]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}
