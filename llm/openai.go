package llm

import (
	"context"
	"errors"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAILLM is an LLM implementation using the OpenAI chat API.
type OpenAILLM struct {
	client *openai.Client
	model  string
}

// OpenAIOption configures the OpenAI client.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	apiKey  string
	baseURL string
	model   string
}

// WithOpenAIKey sets the API key.
func WithOpenAIKey(key string) OpenAIOption {
	return func(c *openAIConfig) {
		c.apiKey = key
	}
}

// WithOpenAIModel sets the default model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		c.model = model
	}
}

// WithOpenAIBaseURL points the client at an OpenAI-compatible endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = url
	}
}

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// NewOpenAI creates a new OpenAI LLM client.
// The API key defaults to the OPENAI_API_KEY environment variable.
func NewOpenAI(opts ...OpenAIOption) *OpenAILLM {
	cfg := openAIConfig{
		apiKey: os.Getenv("OPENAI_API_KEY"),
		model:  DefaultOpenAIModel,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientCfg := openai.DefaultConfig(cfg.apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}

	return &OpenAILLM{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.model,
	}
}

// Generate sends a request and returns the complete response.
func (o *OpenAILLM) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	apiReq := openai.ChatCompletionRequest{Model: model}
	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}
	if req.Temperature != nil {
		apiReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		apiReq.TopP = float32(*req.TopP)
	}
	if req.MaxTokens > 0 {
		apiReq.MaxCompletionTokens = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		apiReq.Stop = req.Stop
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var openaiErr *openai.APIError
		if errors.As(err, &openaiErr) {
			return nil, &APIError{
				Provider: "openai",
				Status:   openaiErr.HTTPStatusCode,
				Type:     openaiErr.Type,
				Message:  openaiErr.Message,
			}
		}
		return nil, &APIError{Provider: "openai", Message: err.Error()}
	}

	if len(resp.Choices) == 0 {
		return nil, &APIError{Provider: "openai", Status: 200, Message: "no choices returned"}
	}

	choice := resp.Choices[0]
	stopReason := StopReasonEnd
	switch choice.FinishReason {
	case openai.FinishReasonLength:
		stopReason = StopReasonLength
	case openai.FinishReasonStop:
		stopReason = StopReasonEnd
	case openai.FinishReasonContentFilter:
		stopReason = StopReasonFiltered
	}

	return &Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      CalculateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
		StopReason:   stopReason,
	}, nil
}
