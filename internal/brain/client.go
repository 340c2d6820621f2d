// Package brain implements the LLM client and policy-driver subprocess
// contracts (spec.md §6 "External collaborator contracts"): a single
// prompt-in/string-out call shape that every LLM-touching package
// (curiosity's goal synthesis, autotest's self-questions/diagnostics,
// pulse's intent/continue/plan classifiers) depends on through its own
// narrow interface, never on this package's concrete types directly.
//
// Grounded on the teacher's internal/providers package (Provider interface,
// AnthropicProvider's net/http request/response shape), collapsed from a
// multi-turn tool-calling chat API down to the spec's single-string
// request/response contract, and generalized to any OpenAI-compatible
// chat/completions endpoint so one client covers every BrainConfig.Provider
// value rather than hardcoding Anthropic.
package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/machina/internal/config"
)

// Request is the LLM client's single call shape (spec.md §6 "{prompt,
// system, max_tokens, temperature, timeout, format_json?, think?}").
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	FormatJSON  bool
	Think       bool
}

// Client returns the model's raw text, or "" on any error — callers must
// degrade (spec.md §6 "On error the client returns an empty string").
type Client interface {
	Complete(ctx context.Context, req Request) string
}

// HTTPClient talks to an OpenAI-compatible chat/completions endpoint
// (Anthropic, OpenAI, OpenRouter, local servers that mimic the OpenAI
// wire format — the common denominator across BrainConfig.Provider
// values), grounded on the teacher's AnthropicProvider net/http pattern.
type HTTPClient struct {
	cfg    config.BrainConfig
	client *http.Client
}

// NewHTTPClient returns an HTTPClient for cfg.
func NewHTTPClient(cfg config.BrainConfig) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{cfg: cfg, client: &http.Client{Timeout: timeout + 10*time.Second}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequestBody struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponseBody struct {
	Choices []chatChoice `json:"choices"`
	// Anthropic's native response shape uses "content" blocks rather than
	// OpenAI's "choices"; handled by a fallback decode in decodeContent.
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends req to the configured provider and returns its text
// response, or "" on any failure (timeout, transport error, malformed
// response body).
func (c *HTTPClient) Complete(ctx context.Context, req Request) string {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(c.cfg.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	messages := []chatMessage{}
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequestBody{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return ""
	}

	url := c.cfg.APIBase
	if url == "" {
		return ""
	}
	httpReq, err := http.NewRequestWithContext(runCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ""
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("x-api-key", c.cfg.APIKey) // Anthropic's header name
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil || resp.StatusCode >= 300 {
		return ""
	}

	var parsed chatResponseBody
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ""
	}
	return decodeContent(parsed)
}

func decodeContent(parsed chatResponseBody) string {
	if len(parsed.Choices) > 0 {
		return parsed.Choices[0].Message.Content
	}
	if len(parsed.Content) > 0 {
		return parsed.Content[0].Text
	}
	return ""
}
