package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"facttrace"
)

// apiError extracts a message from {"detail": ...} or {"error": ...}
// bodies, falling back to the status code.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Detail != "" {
			return fmt.Errorf("%s", payload.Detail)
		}
		if payload.Error != "" {
			return fmt.Errorf("%s", payload.Error)
		}
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}

// fetchCases lists the claim/truth cases known to the backend.
func fetchCases(ctx context.Context, server string) ([]facttrace.Case, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", strings.TrimRight(server, "/")+"/api/cases", nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var cases []facttrace.Case
	if err := json.NewDecoder(resp.Body).Decode(&cases); err != nil {
		return nil, fmt.Errorf("failed to parse cases: %w", err)
	}
	return cases, nil
}

// fetchCase returns a single case by ID.
func fetchCase(ctx context.Context, server string, id int) (facttrace.Case, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/api/cases/%d", strings.TrimRight(server, "/"), id), nil)
	if err != nil {
		return facttrace.Case{}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return facttrace.Case{}, fmt.Errorf("failed to fetch case %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return facttrace.Case{}, apiError(resp)
	}

	var c facttrace.Case
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return facttrace.Case{}, fmt.Errorf("failed to parse case: %w", err)
	}
	return c, nil
}

// verifyOnce runs the blocking (non-streaming) verification endpoint.
func verifyOnce(ctx context.Context, server string, req facttrace.VerifyRequest) (*facttrace.Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", strings.TrimRight(server, "/")+"/api/verify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Minute}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var verdict facttrace.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to parse verdict: %w", err)
	}
	return &verdict, nil
}

// fetchVerdict returns the latest stored verdict, or nil when none exists.
func fetchVerdict(ctx context.Context, server string) (*facttrace.Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", strings.TrimRight(server, "/")+"/api/verdict", nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch verdict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var verdict facttrace.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to parse verdict: %w", err)
	}
	return &verdict, nil
}
