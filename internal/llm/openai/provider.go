// Package openai adapts OpenAI's chat completions API to the
// llm.Provider contract via github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	sdk "github.com/sashabaranov/go-openai"

	"github.com/nexora-ai/core/internal/backoff"
	"github.com/nexora-ai/core/internal/llm"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// Config configures the OpenAI provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxAttempts  int
}

// Provider adapts OpenAI GPT models to llm.Provider.
type Provider struct {
	llm.BaseProvider
	client       *sdk.Client
	defaultModel string
}

// New constructs an OpenAI provider from Config.
func New(cfg Config) *Provider {
	clientCfg := sdk.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = sdk.GPT4o
	}
	return &Provider{
		BaseProvider: llm.NewBaseProvider("openai", backoff.DefaultPolicy(), cfg.MaxAttempts),
		client:       sdk.NewClientWithConfig(clientCfg),
		defaultModel: model,
	}
}

func (p *Provider) Name() string        { return "openai" }
func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) buildRequest(req *llm.CompletionRequest) (sdk.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]sdk.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msg := sdk.ChatCompletionMessage{Role: string(m.Role)}
		for _, part := range m.Content {
			msg.Content += part.Text
		}
		if m.Role == coretypes.RoleTool {
			msg.Role = sdk.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, sdk.ToolCall{
				ID:   tc.ID,
				Type: sdk.ToolTypeFunction,
				Function: sdk.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		messages = append(messages, msg)
	}

	out := sdk.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			var params any
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &params); err != nil {
					return out, err
				}
			}
			tools = append(tools, sdk.Tool{
				Type: sdk.ToolTypeFunction,
				Function: &sdk.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  params,
				},
			})
		}
		out.Tools = tools
	}
	return out, nil
}

// Complete runs one blocking completion.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	creq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp sdk.ChatCompletionResponse
	err = p.Retry(ctx, isRetryableStatus, func() error {
		r, callErr := p.client.CreateChatCompletion(ctx, creq)
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, coretypes.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream runs one completion, delivering StreamChunks. OpenAI streams
// tool calls as index-keyed argument fragments rather than whole
// entries — ToolCallIndex/ToolCallID/ToolCallName/ToolCallArgsDelta are
// populated per chunk and left for the agent's ToolCallAccumulator to
// concatenate, the dual shape spec §4.9 calls out (contrast with the
// Anthropic provider's whole-ToolCall chunks).
func (p *Provider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.StreamChunk, error) {
	creq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	creq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, err
	}

	out := make(chan *llm.StreamChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				out <- &llm.StreamChunk{Done: true}
				return
			}
			if recvErr != nil {
				out <- &llm.StreamChunk{Err: recvErr, Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				out <- &llm.StreamChunk{Content: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				out <- &llm.StreamChunk{
					ToolCallIndex:     index,
					ToolCallID:        tc.ID,
					ToolCallName:      tc.Function.Name,
					ToolCallArgsDelta: tc.Function.Arguments,
				}
			}
			if choice.FinishReason != "" {
				out <- &llm.StreamChunk{Done: true, FinishReason: string(choice.FinishReason)}
				return
			}
		}
	}()
	return out, nil
}

func isRetryableStatus(err error) bool {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
