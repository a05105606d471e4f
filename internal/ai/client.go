package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.siliconflow.cn/v1"
	DefaultModel   = "Qwen/Qwen2.5-72B-Instruct"

	systemPrompt   = "You are a helpful assistant designed to output JSON."
	requestTimeout = 60 * time.Second
)

// ChatRequest is one system+user exchange.
type ChatRequest struct {
	System string
	User   string
	// JSONObject asks the service to constrain output to a JSON object.
	JSONObject bool
}

// Completer sends a chat request and returns the assistant message text.
type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client      *openai.Client
	Model       string
	Temperature float32
	TopP        float32
}

func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = &http.Client{Timeout: requestTimeout}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		Model:       model,
		Temperature: 0.2,
		TopP:        0.1,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: c.Temperature,
		TopP:        c.TopP,
	}
	if req.JSONObject {
		chat.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		if statusCode(err) == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// statusCode digs the HTTP status out of go-openai's error types, or 0.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
