package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aichat/client-go/internal/events"
	"github.com/aichat/client-go/internal/interfaces"
	"github.com/aichat/client-go/internal/logger"
	"github.com/aichat/client-go/internal/models"
	"github.com/aichat/client-go/internal/provider"
	"github.com/aichat/client-go/internal/repository"
)

// BlockManager 消息块管理
// 流式回复按类型切成有序块（正文、思考、工具调用），
// 同时维护消息正文镜像：message.text恒等于全部TEXT块内容按序拼接
type BlockManager struct {
	repos  *repository.Repositories
	writer *BufferedWriter
	bus    interfaces.EventPublisher
	logger *zap.Logger
}

// NewBlockManager 创建块管理器
func NewBlockManager(repos *repository.Repositories, writer *BufferedWriter, bus interfaces.EventPublisher) *BlockManager {
	return &BlockManager{
		repos:  repos,
		writer: writer,
		bus:    bus,
		logger: logger.GetLogger(),
	}
}

// Begin 为一条流式回复开启构建器
func (m *BlockManager) Begin(conversationID, messageID string) *MessageBuilder {
	return &MessageBuilder{
		manager:        m,
		conversationID: conversationID,
		messageID:      messageID,
	}
}

// MessageBuilder 单条消息的块构建器
// 由编排器在流式期间串行调用，句柄内部自己加锁
type MessageBuilder struct {
	manager        *BlockManager
	conversationID string
	messageID      string

	mu         sync.Mutex
	openText   *models.MessageBlock
	textBuf    strings.Builder
	textHandle *WriteHandle

	mirror       strings.Builder
	mirrorHandle *WriteHandle

	thinkingBlock *models.MessageBlock
	thinkingBuf   strings.Builder
	thinkStart    time.Time
}

// AppendText 追加正文增量
// 没有打开的TEXT块时新建一个，工具调用会切断当前块
func (b *MessageBuilder) AppendText(ctx context.Context, delta string) error {
	if delta == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openText == nil {
		block := &models.MessageBlock{
			ID:        uuid.New().String(),
			MessageID: b.messageID,
			Type:      models.BlockTypeText,
			Status:    models.BlockStatusPending,
			SortOrder: -1,
		}
		if err := b.manager.repos.Blocks.Create(ctx, block); err != nil {
			return err
		}
		b.openText = block
		b.textBuf.Reset()

		blockID := block.ID
		b.textHandle = b.manager.writer.Begin(func(value interface{}) error {
			return b.manager.repos.Blocks.UpdateContent(context.Background(), blockID, value.(string))
		})
	}

	b.textBuf.WriteString(delta)
	b.mirror.WriteString(delta)
	b.textHandle.Set(b.textBuf.String())
	b.setMirrorLocked()
	b.publishChanged()
	return nil
}

// AppendThinking 追加思考增量
// 首个增量记录起始时刻并建块
func (b *MessageBuilder) AppendThinking(ctx context.Context, delta string) error {
	if delta == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.thinkingBlock == nil {
		block := &models.MessageBlock{
			ID:        uuid.New().String(),
			MessageID: b.messageID,
			Type:      models.BlockTypeThinking,
			Status:    models.BlockStatusPending,
			SortOrder: -1,
		}
		if err := b.manager.repos.Blocks.Create(ctx, block); err != nil {
			return err
		}
		b.thinkingBlock = block
		b.thinkStart = time.Now()
	}
	b.thinkingBuf.WriteString(delta)
	b.publishChanged()
	return nil
}

// EndThinking 思考结束，落库思考链
func (b *MessageBuilder) EndThinking(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endThinkingLocked(ctx)
}

func (b *MessageBuilder) endThinkingLocked(ctx context.Context) error {
	if b.thinkingBlock == nil {
		return nil
	}
	content := b.thinkingBuf.String()
	end := time.Now()
	chain := &models.ThinkingChain{
		ID:         uuid.New().String(),
		MessageID:  b.messageID,
		Content:    content,
		StartTime:  b.thinkStart,
		EndTime:    end,
		DurationMs: end.Sub(b.thinkStart).Milliseconds(),
		TokenCount: EstimateTokens(content),
	}
	if err := b.manager.repos.Thinking.Upsert(ctx, chain); err != nil {
		return err
	}
	if err := b.manager.repos.Blocks.UpdateStatus(ctx, b.thinkingBlock.ID, models.BlockStatusSuccess, content); err != nil {
		return err
	}
	b.thinkingBlock = nil
	b.thinkingBuf.Reset()
	return nil
}

// AddToolCall 记录一次工具调用，初始为PENDING
// 工具调用切断当前TEXT块，后续正文进入新块
func (b *MessageBuilder) AddToolCall(ctx context.Context, tc *provider.ToolCall) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.closeTextLocked(ctx); err != nil {
		return "", err
	}

	block := &models.MessageBlock{
		ID:         uuid.New().String(),
		MessageID:  b.messageID,
		Type:       models.BlockTypeTool,
		Status:     models.BlockStatusPending,
		SortOrder:  -1,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		ToolArgs:   tc.Args,
	}
	if err := b.manager.repos.Blocks.Create(ctx, block); err != nil {
		return "", err
	}
	b.publishChanged()
	return block.ID, nil
}

// CompleteToolCall 工具执行完成，写结果并置SUCCESS或ERROR
func (b *MessageBuilder) CompleteToolCall(ctx context.Context, blockID, result string, ok bool) error {
	status := models.BlockStatusSuccess
	if !ok {
		status = models.BlockStatusError
	}
	if err := b.manager.repos.Blocks.UpdateStatus(ctx, blockID, status, result); err != nil {
		return err
	}
	b.mu.Lock()
	b.publishChanged()
	b.mu.Unlock()
	return nil
}

// FlatText 当前正文镜像
func (b *MessageBuilder) FlatText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mirror.String()
}

// Finalize 流结束，关闭所有块并同步写出镜像
// 返回最终正文，失败和取消时已落库的部分内容保持原样
func (b *MessageBuilder) Finalize(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.endThinkingLocked(ctx); err != nil {
		return "", err
	}
	if err := b.closeTextLocked(ctx); err != nil {
		return "", err
	}
	if b.mirrorHandle != nil {
		if err := b.mirrorHandle.End(); err != nil {
			return "", err
		}
		b.mirrorHandle = nil
	}
	return b.mirror.String(), nil
}

// closeTextLocked 结束当前TEXT块
func (b *MessageBuilder) closeTextLocked(ctx context.Context) error {
	if b.openText == nil {
		return nil
	}
	if err := b.textHandle.End(); err != nil {
		return err
	}
	if err := b.manager.repos.Blocks.UpdateStatus(ctx, b.openText.ID, models.BlockStatusSuccess, b.textBuf.String()); err != nil {
		return err
	}
	b.openText = nil
	b.textHandle = nil
	return nil
}

// setMirrorLocked 镜像走和块内容同一个去抖窗口
func (b *MessageBuilder) setMirrorLocked() {
	if b.mirrorHandle == nil {
		messageID := b.messageID
		b.mirrorHandle = b.manager.writer.Begin(func(value interface{}) error {
			return b.manager.repos.Messages.UpdateText(context.Background(), messageID, value.(string))
		})
	}
	b.mirrorHandle.Set(b.mirror.String())
}

func (b *MessageBuilder) publishChanged() {
	if b.manager.bus == nil {
		return
	}
	b.manager.bus.Publish(events.TopicMessageChanged, events.MessageChangedPayload{
		ConversationID: b.conversationID,
		MessageID:      b.messageID,
	})
}
