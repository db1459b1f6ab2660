package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aichat/client-go/internal/config"
	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/events"
	"github.com/aichat/client-go/internal/interfaces"
	"github.com/aichat/client-go/internal/logger"
	"github.com/aichat/client-go/internal/models"
	"github.com/aichat/client-go/internal/provider"
	"github.com/aichat/client-go/internal/repository"
)

// TurnState 单轮对话状态机
// idle → assembling → streaming → completed / failed / cancelled
type TurnState string

const (
	TurnStateIdle       TurnState = "idle"
	TurnStateAssembling TurnState = "assembling"
	TurnStateStreaming  TurnState = "streaming"
	TurnStateCompleted  TurnState = "completed"
	TurnStateFailed     TurnState = "failed"
	TurnStateCancelled  TurnState = "cancelled"
)

// TurnResult 一轮流式对话的终态
type TurnResult struct {
	State TurnState
	Text  string
	Usage *provider.Usage
	Err   *apperrors.AppError
	// SearchErr 搜索增强降级原因，本轮照常完成时也会带回
	SearchErr *apperrors.AppError
}

// TurnHandle 调用方持有的本轮句柄
// Done在终态写入一次后关闭
type TurnHandle struct {
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string
	Done               <-chan TurnResult
}

// SendOptions 发送选项
type SendOptions struct {
	// AttachmentIDs 已导入附件的ID，随用户消息关联
	AttachmentIDs []string
	// EnableSearch 本轮启用搜索增强
	EnableSearch bool
}

// SendTurnRequest 发起一轮对话的入参
type SendTurnRequest struct {
	ConversationID string `validate:"required"`
	Text           string `validate:"required"`
}

type activeTurn struct {
	cancel context.CancelFunc
	state  TurnState
}

// StreamOrchestrator 流式对话编排器
// 每个会话同时只允许一轮在途；用户消息和助手占位在发起网络请求前落库，
// 崩溃后界面上仍能看到这轮对话的壳
type StreamOrchestrator struct {
	repos     *repository.Repositories
	assembler *ContextAssembler
	blocks    *BlockManager
	registry  *provider.Registry
	config    *config.AIConfig
	bus       interfaces.EventPublisher
	validate  *validator.Validate
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]*activeTurn
}

// NewStreamOrchestrator 创建编排器
func NewStreamOrchestrator(
	repos *repository.Repositories,
	assembler *ContextAssembler,
	blocks *BlockManager,
	registry *provider.Registry,
	cfg *config.AIConfig,
	bus interfaces.EventPublisher,
) *StreamOrchestrator {
	return &StreamOrchestrator{
		repos:     repos,
		assembler: assembler,
		blocks:    blocks,
		registry:  registry,
		config:    cfg,
		bus:       bus,
		validate:  validator.New(),
		logger:    logger.GetLogger(),
		active:    make(map[string]*activeTurn),
	}
}

// State 会话当前的流式状态
func (o *StreamOrchestrator) State(conversationID string) TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if turn, ok := o.active[conversationID]; ok {
		return turn.state
	}
	return TurnStateIdle
}

// SendMessage 发起一轮对话
// 同步部分只负责落库用户消息和助手占位，流式消费在后台进行，
// 终态通过返回句柄的Done通道交付
func (o *StreamOrchestrator) SendMessage(ctx context.Context, conversationID, text string, opts SendOptions) (*TurnHandle, error) {
	if err := o.validate.Struct(&SendTurnRequest{ConversationID: conversationID, Text: text}); err != nil {
		return nil, apperrors.Translate(err)
	}

	conv, err := o.repos.Conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if _, busy := o.active[conversationID]; busy {
		o.mu.Unlock()
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeStreamBusy,
			fmt.Sprintf("conversation %s already has a stream in flight", conversationID))
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	o.active[conversationID] = &activeTurn{cancel: cancel, state: TurnStateAssembling}
	o.mu.Unlock()

	now := time.Now()
	userMsg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Text:           text,
		Status:         models.MessageStatusSent,
		CreatedAt:      now,
	}
	if err := o.repos.Messages.Create(ctx, userMsg); err != nil {
		o.release(conversationID)
		return nil, err
	}
	for _, attID := range opts.AttachmentIDs {
		if err := o.repos.Attachments.Link(ctx, userMsg.ID, attID); err != nil {
			o.release(conversationID)
			return nil, err
		}
	}

	assistantMsg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Status:         models.MessageStatusPending,
		ParentID:       &userMsg.ID,
		CreatedAt:      now.Add(time.Millisecond),
	}
	if err := o.repos.Messages.Create(ctx, assistantMsg); err != nil {
		o.release(conversationID)
		return nil, err
	}
	o.publishChanged(conversationID, assistantMsg.ID)

	done := make(chan TurnResult, 1)
	handle := &TurnHandle{
		ConversationID:     conversationID,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		Done:               done,
	}

	firstTurn := conv.Title == nil
	turnCounter.WithLabelValues("started").Inc()
	go o.run(streamCtx, conv, assistantMsg.ID, userMsg, firstTurn, opts, done)

	return handle, nil
}

// Stop 终止会话的在途流
// 已经写出的部分内容保持原样，助手消息落为cancelled
func (o *StreamOrchestrator) Stop(conversationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	turn, ok := o.active[conversationID]
	if !ok {
		return false
	}
	turn.cancel()
	return true
}

// run 后台消费流，写终态并交付结果
func (o *StreamOrchestrator) run(ctx context.Context, conv *models.Conversation, assistantID string, userMsg *models.Message, firstTurn bool, opts SendOptions, done chan<- TurnResult) {
	defer o.release(conv.ID)
	defer close(done)

	result := o.runTurn(ctx, conv, assistantID, userMsg, opts)
	turnCounter.WithLabelValues(string(result.State)).Inc()
	// 落库不跟随流的取消
	pctx := context.Background()

	switch result.State {
	case TurnStateCompleted:
		if result.Usage != nil {
			tokenCounter.Add(float64(result.Usage.OutputTokens))
		} else {
			tokenCounter.Add(float64(EstimateTokens(result.Text)))
		}
		if err := o.repos.Messages.UpdateStatus(pctx, assistantID, models.MessageStatusSent); err != nil {
			o.logger.Error("Failed to mark message sent", zap.String("message_id", assistantID), zap.Error(err))
		}
		if firstTurn && o.config.AutoNaming {
			go o.nameConversation(conv.ID, userMsg.Text, result.Text)
		}
	case TurnStateCancelled:
		if err := o.repos.Messages.UpdateStatus(pctx, assistantID, models.MessageStatusCancelled); err != nil {
			o.logger.Error("Failed to mark message cancelled", zap.String("message_id", assistantID), zap.Error(err))
		}
	case TurnStateFailed:
		if err := o.repos.Messages.UpdateStatus(pctx, assistantID, models.MessageStatusFailed); err != nil {
			o.logger.Error("Failed to mark message failed", zap.String("message_id", assistantID), zap.Error(err))
		}
		if result.Err != nil {
			patch := map[string]interface{}{
				"error": map[string]interface{}{
					"code":    string(result.Err.Code),
					"message": result.Err.Message,
					"hint":    result.Err.Hint,
				},
			}
			if err := o.repos.Messages.MergeExtra(pctx, assistantID, patch); err != nil {
				o.logger.Error("Failed to record message error", zap.String("message_id", assistantID), zap.Error(err))
			}
		}
	}

	if result.SearchErr != nil {
		patch := map[string]interface{}{
			"searchError": map[string]interface{}{
				"code":    string(result.SearchErr.Code),
				"message": result.SearchErr.Message,
				"hint":    result.SearchErr.Hint,
			},
		}
		if err := o.repos.Messages.MergeExtra(pctx, assistantID, patch); err != nil {
			o.logger.Error("Failed to record search degradation", zap.String("message_id", assistantID), zap.Error(err))
		}
	}

	o.publishChanged(conv.ID, assistantID)
	done <- result
}

// runTurn 组装并消费一次流式补全
func (o *StreamOrchestrator) runTurn(ctx context.Context, conv *models.Conversation, assistantID string, userMsg *models.Message, opts SendOptions) (result TurnResult) {
	o.setState(conv.ID, TurnStateAssembling)

	req, searchNotice, err := o.assembler.Assemble(ctx, conv, userMsg, AssembleOptions{
		EnableSearch: opts.EnableSearch,
		SearchQuery:  userMsg.Text,
	})
	if err != nil {
		o.logger.Error("Context assembly failed",
			zap.String("conversation_id", conv.ID), zap.Error(err))
		return TurnResult{
			State: TurnStateFailed,
			Err: apperrors.NewSystemError(apperrors.ErrCodeAssemblyFailed,
				"failed to assemble conversation context").WithCause(err),
		}
	}
	// 搜索降级不影响终态，但原因要随终态一起交付
	defer func() { result.SearchErr = searchNotice }()

	prov, err := o.resolveProvider(conv)
	if err != nil {
		return TurnResult{
			State: TurnStateFailed,
			Err:   apperrors.ClassifyProviderError(err),
		}
	}

	o.setState(conv.ID, TurnStateStreaming)
	stream, err := prov.Stream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return TurnResult{State: TurnStateCancelled}
		}
		return TurnResult{State: TurnStateFailed, Err: apperrors.ClassifyProviderError(err)}
	}

	builder := o.blocks.Begin(conv.ID, assistantID)
	pctx := context.Background()
	var usage *provider.Usage

	finalize := func() string {
		text, ferr := builder.Finalize(pctx)
		if ferr != nil {
			o.logger.Error("Failed to finalize message blocks",
				zap.String("message_id", assistantID), zap.Error(ferr))
		}
		return text
	}

	for {
		select {
		case <-ctx.Done():
			return TurnResult{State: TurnStateCancelled, Text: finalize()}
		case event, ok := <-stream:
			if !ok {
				// 通道未经Done关闭，按网络中断处理
				return TurnResult{
					State: TurnStateFailed,
					Text:  finalize(),
					Err:   apperrors.ClassifyProviderError(errors.New("stream closed unexpectedly")),
				}
			}
			switch event.Type {
			case provider.EventText:
				if err := builder.AppendText(pctx, event.Text); err != nil {
					return TurnResult{State: TurnStateFailed, Text: finalize(), Err: o.persistError(err)}
				}
			case provider.EventThinking:
				if err := builder.AppendThinking(pctx, event.Text); err != nil {
					return TurnResult{State: TurnStateFailed, Text: finalize(), Err: o.persistError(err)}
				}
			case provider.EventToolCall:
				if _, err := builder.AddToolCall(pctx, event.ToolCall); err != nil {
					return TurnResult{State: TurnStateFailed, Text: finalize(), Err: o.persistError(err)}
				}
			case provider.EventError:
				if ctx.Err() != nil {
					return TurnResult{State: TurnStateCancelled, Text: finalize()}
				}
				return TurnResult{
					State: TurnStateFailed,
					Text:  finalize(),
					Err:   apperrors.ClassifyProviderError(event.Err),
				}
			case provider.EventDone:
				usage = event.Usage
				text := finalize()
				o.recordUsage(pctx, assistantID, req.Model, usage)
				return TurnResult{State: TurnStateCompleted, Text: text, Usage: usage}
			}
		}
	}
}

// resolveProvider 解析本轮使用的提供商，会话extra可覆盖全局默认
func (o *StreamOrchestrator) resolveProvider(conv *models.Conversation) (provider.Provider, error) {
	name := o.config.Provider
	if extra, err := conv.ParsedExtra(); err == nil && extra.SelectedModel != nil && extra.SelectedModel.Provider != "" {
		name = extra.SelectedModel.Provider
	}
	return o.registry.Get(name)
}

// recordUsage 完成后把模型和用量写进消息extra
func (o *StreamOrchestrator) recordUsage(ctx context.Context, messageID, model string, usage *provider.Usage) {
	patch := map[string]interface{}{"modelId": model}
	if usage != nil {
		patch["usage"] = map[string]interface{}{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
			"total_tokens":  usage.TotalTokens,
		}
	}
	if err := o.repos.Messages.MergeExtra(ctx, messageID, patch); err != nil {
		o.logger.Error("Failed to record usage",
			zap.String("message_id", messageID), zap.Error(err))
	}
}

// nameConversation 首轮完成后异步生成会话标题
// 失败只记录，不影响已完成的对话
func (o *StreamOrchestrator) nameConversation(conversationID, userText, assistantText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	prov, err := o.registry.Get(o.config.Provider)
	if err != nil {
		o.logger.Warn("Auto naming skipped, provider unavailable", zap.Error(err))
		return
	}

	model := o.config.NamingModel
	if model == "" {
		model = o.config.DefaultModel
	}
	prompt := fmt.Sprintf(
		"Generate a concise title (3-8 words) for this conversation. Reply with the title only, no quotes.\n\nUser: %s\n\nAssistant: %s",
		truncateForPrompt(userText, 500), truncateForPrompt(assistantText, 500))

	title, err := prov.Chat(ctx, &provider.ChatRequest{
		Model:       model,
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: prompt}},
		Temperature: 0.3,
	})
	if err != nil {
		o.logger.Warn("Auto naming failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	title = strings.Trim(strings.TrimSpace(title), "\"“”")
	if title == "" {
		return
	}
	if err := o.repos.Conversations.UpdateTitle(context.Background(), conversationID, title); err != nil {
		o.logger.Error("Failed to save generated title",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	o.logger.Info("Conversation auto named",
		zap.String("conversation_id", conversationID), zap.String("title", title))
	o.publishChanged(conversationID, "")
}

func (o *StreamOrchestrator) persistError(err error) *apperrors.AppError {
	if app := apperrors.GetAppError(err); app != nil {
		return app
	}
	return apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to persist stream content").WithCause(err)
}

func (o *StreamOrchestrator) setState(conversationID string, state TurnState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if turn, ok := o.active[conversationID]; ok {
		turn.state = state
	}
}

func (o *StreamOrchestrator) release(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if turn, ok := o.active[conversationID]; ok {
		turn.cancel()
		delete(o.active, conversationID)
	}
}

func (o *StreamOrchestrator) publishChanged(conversationID, messageID string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.TopicMessageChanged, events.MessageChangedPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
}

func truncateForPrompt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
