// Package openai implements triage.Model on top of the OpenAI Chat
// Completions API via github.com/openai/openai-go. The same client also
// backs the Groq leg of the provider chain: Groq exposes an
// OpenAI-wire-compatible endpoint, so New with a custom base URL is all a
// Groq client needs (see NewGroq).
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// ChatClient captures the subset of the openai-go client this package uses.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client implements triage.Model against a single chat model, throttled to
// stay under the configured requests-per-second budget.
type Client struct {
	chat    ChatClient
	model   string
	limiter *rate.Limiter
}

// New builds a Client. rps <= 0 disables throttling.
func New(chat ChatClient, model string, rps float64) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if model == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	c := &Client{chat: chat, model: model}
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c, nil
}

// NewFromAPIKey constructs a Client against the public OpenAI API.
func NewFromAPIKey(apiKey, model string, rps float64) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(oc.Chat.Completions, model, rps)
}

// NewGroq constructs a Client against Groq's OpenAI-compatible endpoint.
func NewGroq(apiKey, model string, rps float64) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("groq: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(groqBaseURL))
	return New(oc.Chat.Completions, model, rps)
}

// Complete issues a single-turn chat completion and returns the first
// choice's message content.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("openai: rate limiter: %w", err)
		}
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	params := openai.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat.completions.new: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
