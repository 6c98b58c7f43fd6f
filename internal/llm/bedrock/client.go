// Package bedrock adapts AWS Bedrock's Converse API to the llm.Provider
// interface, grounded on the Converse/ConverseStream usage pattern from the
// pack's gomind AI provider (ai/providers/bedrock/client.go), restructured to
// match the teacher's per-provider client shape (Config, New, Chat,
// ChatStream, request spans, redacted logging).
package bedrock

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"agenticrag/internal/llm"
	"agenticrag/internal/observability"
)

// Config configures the Bedrock client, filled from config.ProviderConfig
// plus the caller's resolved AWS region.
type Config struct {
	Region string
	Model  string
}

type Client struct {
	sdk    *bedrockruntime.Client
	model  string
	region string
}

// New loads AWS credentials from the default provider chain (environment,
// shared config, IAM role) and builds a Bedrock Runtime client.
func New(ctx context.Context, cfg Config, httpClient *http.Client) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Client{
		sdk:    bedrockruntime.NewFromConfig(awsCfg),
		model:  cfg.Model,
		region: cfg.Region,
	}, nil
}

func (c *Client) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

func toConverseMessages(msgs []llm.Message) ([]types.Message, string) {
	out := make([]types.Message, 0, len(msgs))
	var system string
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = m.Content
		case "user", "tool":
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case "assistant":
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			out = append(out, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	return out, system
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	effectiveModel := c.pickModel(model)

	ctx, span := llm.StartRequestSpan(ctx, "Bedrock Chat", effectiveModel, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	converseMsgs, system := toConverseMessages(msgs)

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(effectiveModel),
		Messages: converseMsgs,
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	start := time.Now()
	out, err := c.sdk.Converse(ctx, input)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Dur("duration", dur).Msg("bedrock_converse_error")
		return llm.Message{}, fmt.Errorf("bedrock converse: %w", err)
	}

	var content string
	switch v := out.Output.(type) {
	case *types.ConverseOutputMemberMessage:
		for _, block := range v.Value.Content {
			if tb, ok := block.(*types.ContentBlockMemberText); ok {
				content += tb.Value
			}
		}
	default:
		return llm.Message{}, fmt.Errorf("unexpected bedrock output type")
	}

	result := llm.Message{Role: "assistant", Content: content}

	var promptTokens, completionTokens int
	if out.Usage != nil {
		promptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		completionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)
	llm.RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	llm.LogRedactedResponse(ctx, result)

	return result, nil
}

func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	effectiveModel := c.pickModel(model)

	ctx, span := llm.StartRequestSpan(ctx, "Bedrock ChatStream", effectiveModel, len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	converseMsgs, system := toConverseMessages(msgs)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(effectiveModel),
		Messages: converseMsgs,
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	out, err := c.sdk.ConverseStream(ctx, input)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("bedrock_converse_stream_error")
		return fmt.Errorf("bedrock converse stream: %w", err)
	}

	stream := out.GetStream()
	defer stream.Close()

	var full strings.Builder
	var promptTokens, completionTokens int

	for event := range stream.Events() {
		switch v := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			if d, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
				full.WriteString(d.Value)
				h.OnDelta(d.Value)
			}
		case *types.ConverseStreamOutputMemberMetadata:
			if v.Value.Usage != nil {
				promptTokens = int(aws.ToInt32(v.Value.Usage.InputTokens))
				completionTokens = int(aws.ToInt32(v.Value.Usage.OutputTokens))
			}
		}
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("bedrock stream: %w", err)
	}

	llm.RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)
	llm.RecordTokenMetrics(effectiveModel, promptTokens, completionTokens)
	llm.LogRedactedResponse(ctx, llm.Message{Role: "assistant", Content: full.String()})

	return nil
}

var _ llm.Provider = (*Client)(nil)
