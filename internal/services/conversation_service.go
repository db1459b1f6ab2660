package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aichat/client-go/internal/events"
	"github.com/aichat/client-go/internal/interfaces"
	"github.com/aichat/client-go/internal/logger"
	"github.com/aichat/client-go/internal/models"
	"github.com/aichat/client-go/internal/repository"
)

// ConversationService 会话生命周期管理
type ConversationService struct {
	repos  *repository.Repositories
	bus    interfaces.EventPublisher
	logger *zap.Logger
}

// NewConversationService 创建会话服务
func NewConversationService(repos *repository.Repositories, bus interfaces.EventPublisher) *ConversationService {
	return &ConversationService{
		repos:  repos,
		bus:    bus,
		logger: logger.GetLogger(),
	}
}

// Create 新建会话，标题留空等首轮自动命名
func (s *ConversationService) Create(ctx context.Context) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID: uuid.New().String(),
	}
	if err := s.repos.Conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	s.logger.Info("Conversation created", zap.String("conversation_id", conv.ID))
	return conv, nil
}

// Get 按ID取会话
func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.repos.Conversations.GetByID(ctx, id)
}

// List 会话列表，按最近活跃排序
func (s *ConversationService) List(ctx context.Context, includeArchived bool) ([]*models.Conversation, error) {
	return s.repos.Conversations.List(ctx, includeArchived)
}

// Rename 手动改标题
func (s *ConversationService) Rename(ctx context.Context, id, title string) error {
	return s.repos.Conversations.UpdateTitle(ctx, id, title)
}

// SetArchived 归档或取消归档
func (s *ConversationService) SetArchived(ctx context.Context, id string, archived bool) error {
	return s.repos.Conversations.SetArchived(ctx, id, archived)
}

// SelectModel 设置会话级模型覆盖
// extra按读-改-写合并，已有的contextResetAt等键原样保留
func (s *ConversationService) SelectModel(ctx context.Context, id, providerName, model string) error {
	return s.repos.Conversations.MergeExtra(ctx, id, map[string]interface{}{
		"selectedModel": map[string]interface{}{
			"provider": providerName,
			"model":    model,
		},
	})
}

// ResetContext 截断上下文
// 此刻之前的历史不再进入后续回合的窗口，消息本身保留
func (s *ConversationService) ResetContext(ctx context.Context, id string) error {
	return s.repos.Conversations.MergeExtra(ctx, id, map[string]interface{}{
		"contextResetAt": time.Now().UnixMilli(),
	})
}

// ClearMessages 清空会话消息
// 消息、块、思考链和附件关联级联删除，附件文件留给孤儿清理
func (s *ConversationService) ClearMessages(ctx context.Context, id string) error {
	if err := s.repos.Messages.DeleteByConversation(ctx, id); err != nil {
		return err
	}
	if err := s.repos.Conversations.Touch(ctx, id, time.Now()); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicMessagesCleared, events.MessagesClearedPayload{ConversationID: id})
	}
	s.logger.Info("Conversation messages cleared", zap.String("conversation_id", id))
	return nil
}

// Delete 删除会话及其全部消息
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	if err := s.repos.Conversations.Delete(ctx, id); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicMessagesCleared, events.MessagesClearedPayload{ConversationID: id})
	}
	return nil
}
