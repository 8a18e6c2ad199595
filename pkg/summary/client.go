// Package summary asks an OpenAI-compatible chat-completions endpoint for a
// short clinical summary of a referral.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/config"
	"github.com/sony/gobreaker/v2"
)

var (
	ErrEmptyCompletion = errors.New("summary service returned no content")
	ErrUnavailable     = errors.New("summary service unavailable")
)

// CaseData is the subset of a referral sent for summarization.
type CaseData struct {
	PatientName         string
	PatientAge          int
	PatientGender       string
	ClinicalInformation string
	Diagnosis           string
	ReasonForReferral   string
	MedicalHistory      string
	Medications         string
}

var promptTemplate = template.Must(template.New("prompt").Parse(
	`You are a clinical decision-support assistant. A referring doctor has submitted a medical referral with the following data:

Patient Name: {{or .PatientName "N/A"}}
Age: {{.PatientAge}}
Gender: {{or .PatientGender "N/A"}}

Clinical Summary:
{{or .ClinicalInformation "N/A"}}

Working Diagnosis:
{{or .Diagnosis "N/A"}}

Reason for Referral:
{{or .ReasonForReferral "N/A"}}

Medical History:
{{or .MedicalHistory "None"}}

Current Medications:
{{or .Medications "None"}}

Instructions:
1. Provide a clear summary of the case.
2. Suggest possible areas the consulting doctor may want to focus on.
3. Recommend any preliminary actions or questions to consider.

Respond in a concise and professional format.
`))

// Prompt renders the fixed prompt for a case.
func Prompt(d CaseData) (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, d); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return b.String(), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type Client struct {
	cfg     config.SummaryConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

func NewClient(cfg config.SummaryConfig) *Client {
	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "summary",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
	}
}

// Summarize returns the generated summary. Once the breaker opens, calls fail
// fast with ErrUnavailable until the cooldown elapses.
func (c *Client) Summarize(ctx context.Context, d CaseData) (string, error) {
	prompt, err := Prompt(d)
	if err != nil {
		return "", err
	}

	out, err := c.breaker.Execute(func() (string, error) {
		return c.complete(ctx, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, err
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	maxTokens := c.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling summary service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("summary service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
