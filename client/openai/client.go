// Package openai streams completions from OpenAI-compatible servers.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"multicompletion/config"
	"multicompletion/logger"
	"multicompletion/types"

	goopenai "github.com/sashabaranov/go-openai"
)

// ErrChatOnlyModel is returned when a model is known to accept chat requests only
var ErrChatOnlyModel = errors.New("model needs chat_mode")

// Options tunes the HTTP side of a client
type Options struct {
	// Compression is "" or config.CompressionBrotli
	Compression string
	// Transport overrides the base round tripper, mainly for tests
	Transport http.RoundTripper
}

// Client is a reusable OpenAI-compatible API client bound to one endpoint
type Client struct {
	api         *goopenai.Client
	endpoint    string
	apiKey      string
	compression string
}

// NewClient creates a client for an endpoint base URL such as http://localhost:5001/v1.
// The HTTP client carries no timeout; streams are bounded by the request context.
func NewClient(endpoint, apiKey string, opts Options) *Client {
	endpoint = strings.TrimRight(endpoint, "/")

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.Compression == config.CompressionBrotli {
		base = &brotliTransport{base: base}
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = endpoint
	cfg.HTTPClient = &http.Client{Transport: base}

	return &Client{
		api:         goopenai.NewClientWithConfig(cfg),
		endpoint:    endpoint,
		apiKey:      apiKey,
		compression: opts.Compression,
	}
}

// Matches reports whether the client was built for these connection settings
func (c *Client) Matches(endpoint, apiKey, compression string) bool {
	return c.endpoint == strings.TrimRight(endpoint, "/") && c.apiKey == apiKey && c.compression == compression
}

// Endpoint returns the base URL the client talks to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Complete opens a streaming request. Chat requests go to /chat/completions,
// everything else to /completions.
func (c *Client) Complete(ctx context.Context, req *types.CompletionRequest) (types.ChunkStream, error) {
	if req == nil {
		return nil, errors.New("nil completion request")
	}

	if req.Chat {
		return c.completeChat(ctx, req)
	}

	stream, err := c.api.CreateCompletionStream(ctx, goopenai.CompletionRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
		Stream:      true,
	})
	if errors.Is(err, goopenai.ErrCompletionUnsupportedModel) {
		return nil, fmt.Errorf("%w: %s", ErrChatOnlyModel, req.Model)
	}
	if err != nil {
		return nil, fmt.Errorf("completion request to %s: %w", c.endpoint, err)
	}

	logger.Debug("openai: opened completion stream model=%s stops=%d", req.Model, len(req.StopSequences))
	return &completionStream{stream: stream}, nil
}

func (c *Client) completeChat(ctx context.Context, req *types.CompletionRequest) (types.ChunkStream, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	stream, err := c.api.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion request to %s: %w", c.endpoint, err)
	}

	logger.Debug("openai: opened chat stream model=%s stops=%d", req.Model, len(req.StopSequences))
	return &chatStream{stream: stream}, nil
}

// temperature maps 0 to the smallest float32; go-openai drops a zero
// temperature from the request body
func temperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

type completionStream struct {
	stream *goopenai.CompletionStream
}

func (s *completionStream) Recv() (string, error) {
	res, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", nil
	}
	return res.Choices[0].Text, nil
}

func (s *completionStream) Close() error {
	return s.stream.Close()
}

type chatStream struct {
	stream *goopenai.ChatCompletionStream
}

func (s *chatStream) Recv() (string, error) {
	res, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", nil
	}
	return res.Choices[0].Delta.Content, nil
}

func (s *chatStream) Close() error {
	return s.stream.Close()
}

// StatusCode extracts the HTTP status from a go-openai error chain, or 0
func StatusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
