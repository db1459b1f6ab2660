package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aichat/client-go/internal/config"
	"github.com/aichat/client-go/internal/logger"
)

// OpenAIProvider OpenAI兼容提供商
// 任何暴露chat/completions接口的服务都可以通过BaseURL接入
type OpenAIProvider struct {
	client *openai.Client
	name   string
	logger *zap.Logger
}

// NewOpenAIProvider 创建OpenAI提供商
func NewOpenAIProvider(cfg *config.AIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		name:   "openai",
		logger: logger.GetLogger(),
	}
}

// Name 提供商标识
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Stream 发起流式补全
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	openaiReq := p.buildRequest(req)
	openaiReq.Stream = true
	openaiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, openaiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion stream: %w", err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()

		var usage *Usage
		toolCalls := make(map[int]*ToolCall)

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				for _, tc := range toolCalls {
					events <- StreamEvent{Type: EventToolCall, ToolCall: tc}
				}
				events <- StreamEvent{Type: EventDone, Usage: usage}
				return
			}
			if err != nil {
				select {
				case events <- StreamEvent{Type: EventError, Err: err}:
				case <-ctx.Done():
				}
				return
			}

			if resp.Usage != nil {
				usage = &Usage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
					TotalTokens:  resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta

			if delta.Content != "" {
				select {
				case events <- StreamEvent{Type: EventText, Text: delta.Content}:
				case <-ctx.Done():
					return
				}
			}

			// 工具调用的片段按index聚合，流结束时整体发出
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				agg := toolCalls[idx]
				if agg == nil {
					agg = &ToolCall{}
					toolCalls[idx] = agg
				}
				if tc.ID != "" {
					agg.ID = tc.ID
				}
				if tc.Function.Name != "" {
					agg.Name = tc.Function.Name
				}
				agg.Args += tc.Function.Arguments
			}
		}
	}()

	return events, nil
}

// Chat 非流式补全
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// buildRequest 转换为go-openai请求
func (p *OpenAIProvider) buildRequest(req *ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{Role: m.Role}
		if len(m.Parts) > 0 {
			parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
			for _, part := range m.Parts {
				switch part.Type {
				case "image_url":
					parts = append(parts, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL},
					})
				default:
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				}
			}
			msg.MultiContent = parts
		} else {
			msg.Content = m.Content
		}
		messages = append(messages, msg)
	}

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}
