// Package anthropic adapts Anthropic's Messages API to the llm.Provider
// contract, grounded on the teacher's provider_types.go LLMProvider
// interface and its streaming CompletionChunk shape.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexora-ai/core/internal/backoff"
	"github.com/nexora-ai/core/internal/llm"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// Config configures the Anthropic provider.
type Config struct {
	APIKey      string
	BaseURL     string
	DefaultModel string
	MaxAttempts int
}

// Provider adapts Anthropic's Claude models to llm.Provider.
type Provider struct {
	llm.BaseProvider
	client       sdk.Client
	defaultModel string
}

// New constructs an Anthropic provider from Config.
func New(cfg Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &Provider{
		BaseProvider: llm.NewBaseProvider("anthropic", backoff.DefaultPolicy(), cfg.MaxAttempts),
		client:       sdk.NewClient(opts...),
		defaultModel: model,
	}
}

func (p *Provider) Name() string        { return "anthropic" }
func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) buildParams(req *llm.CompletionRequest) (sdk.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content)+1)
		for _, part := range m.Content {
			if part.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(part.Text))
			}
			if part.ImageURL != "" {
				blocks = append(blocks, sdk.NewImageBlock(sdk.URLImageSourceParam{URL: part.ImageURL}))
			}
		}
		switch m.Role {
		case coretypes.RoleUser:
			messages = append(messages, sdk.NewUserMessage(blocks...))
		case coretypes.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(blocks...))
		case coretypes.RoleTool:
			messages = append(messages, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Name, false),
			))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema any
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &schema); err != nil {
					return params, fmt.Errorf("anthropic: invalid tool schema for %s: %w", t.Name, err)
				}
			}
			tools = append(tools, sdk.ToolUnionParam{
				OfTool: &sdk.ToolParam{
					Name:        t.Name,
					Description: sdk.String(t.Description),
					InputSchema: sdk.ToolInputSchemaParam{Properties: schema},
				},
			})
		}
		params.Tools = tools
	}
	return params, nil
}

// Complete runs one blocking completion.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	var message *sdk.Message
	err = p.Retry(ctx, isRetryableStatus, func() error {
		msg, callErr := p.client.Messages.New(ctx, params)
		if callErr != nil {
			return callErr
		}
		message = msg
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := &llm.CompletionResponse{
		FinishReason: string(message.StopReason),
		Usage: llm.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			resp.Content += b.Text
		case sdk.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, coretypes.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: json.RawMessage(b.Input),
			})
		}
	}
	return resp, nil
}

// Stream runs one completion, delivering StreamChunks. Anthropic emits
// complete tool_use blocks (accumulated server-side across
// input_json_delta events by the SDK's MessageAccumulator), so every
// chunk here carries a whole ToolCall rather than an index-keyed
// fragment — the other half of the dual shape the agent's
// ToolCallAccumulator must handle (see the OpenAI provider for the
// index-keyed delta case).
func (p *Provider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan *llm.StreamChunk, 16)
	go func() {
		defer close(out)

		stream := p.client.Messages.NewStreaming(ctx, params)
		accumulated := sdk.Message{}

		for stream.Next() {
			event := stream.Current()
			if err := accumulated.Accumulate(event); err != nil {
				out <- &llm.StreamChunk{Err: err, Done: true}
				return
			}
			switch delta := event.AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				switch d := delta.Delta.AsAny().(type) {
				case sdk.TextDelta:
					out <- &llm.StreamChunk{Content: d.Text}
				}
			}
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			out <- &llm.StreamChunk{Err: err, Done: true}
			return
		}

		for _, block := range accumulated.Content {
			if tu, ok := block.AsAny().(sdk.ToolUseBlock); ok {
				out <- &llm.StreamChunk{ToolCall: &coretypes.ToolCall{
					ID:    tu.ID,
					Name:  tu.Name,
					Input: json.RawMessage(tu.Input),
				}}
			}
		}

		out <- &llm.StreamChunk{
			Done:         true,
			FinishReason: string(accumulated.StopReason),
			Usage: &llm.Usage{
				PromptTokens:     int(accumulated.Usage.InputTokens),
				CompletionTokens: int(accumulated.Usage.OutputTokens),
				TotalTokens:      int(accumulated.Usage.InputTokens + accumulated.Usage.OutputTokens),
			},
		}
	}()
	return out, nil
}

func isRetryableStatus(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
