package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/models"
)

// messageRepository 消息仓库实现
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create 创建消息并在同一事务内推进会话更新时间
func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", msg.CreatedAt).Error
	})
	if err != nil {
		return apperrors.NewRepositoryError("message", "Create", err,
			"conversation_id", msg.ConversationID, "message_id", msg.ID)
	}
	return nil
}

// GetByID 根据ID获取消息
func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("message").WithDetails(map[string]interface{}{"message_id": id})
		}
		return nil, apperrors.NewRepositoryError("message", "GetByID", err, "message_id", id)
	}
	return &msg, nil
}

// ListByConversation 获取会话全部消息，按创建时间升序
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	var msgs []*models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, apperrors.NewRepositoryError("message", "ListByConversation", err, "conversation_id", conversationID)
	}
	return msgs, nil
}

// ListRecent 获取最近limit条消息，结果按创建时间升序返回
// after非空时只返回该时间之后的消息（上下文重置点截断）
func (r *messageRepository) ListRecent(ctx context.Context, conversationID string, limit int, after *time.Time) ([]*models.Message, error) {
	var msgs []*models.Message
	query := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID)
	if after != nil {
		query = query.Where("created_at > ?", *after)
	}
	err := query.Order("created_at DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, apperrors.NewRepositoryError("message", "ListRecent", err, "conversation_id", conversationID)
	}

	// 倒序查询取最近N条，翻转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// UpdateStatus 更新消息状态
func (r *messageRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return apperrors.NewRepositoryError("message", "UpdateStatus", err, "message_id", id, "status", status)
	}
	return nil
}

// UpdateText 更新扁平化文本内容
func (r *messageRepository) UpdateText(ctx context.Context, id string, text string) error {
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Update("text", text).Error
	if err != nil {
		return apperrors.NewRepositoryError("message", "UpdateText", err, "message_id", id)
	}
	return nil
}

// MergeExtra 读-改-写合并extra JSON，未知键保留
func (r *messageRepository) MergeExtra(ctx context.Context, id string, patch map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.Where("id = ?", id).First(&msg).Error; err != nil {
			return apperrors.NewRepositoryError("message", "MergeExtra", err, "message_id", id)
		}
		merged, err := mergeExtraJSON(msg.Extra, patch)
		if err != nil {
			return apperrors.NewRepositoryError("message", "MergeExtra", err, "message_id", id)
		}
		if err := tx.Model(&models.Message{}).Where("id = ?", id).
			UpdateColumn("extra", merged).Error; err != nil {
			return apperrors.NewRepositoryError("message", "MergeExtra", err, "message_id", id)
		}
		return nil
	})
}

// DeleteByConversation 清空会话内全部消息及其内容块
func (r *messageRepository) DeleteByConversation(ctx context.Context, conversationID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var messageIDs []string
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ?", conversationID).
			Pluck("id", &messageIDs).Error; err != nil {
			return err
		}
		if len(messageIDs) > 0 {
			if err := tx.Where("message_id IN ?", messageIDs).Delete(&models.MessageAttachment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("message_id IN ?", messageIDs).Delete(&models.MessageBlock{}).Error; err != nil {
				return err
			}
			if err := tx.Where("message_id IN ?", messageIDs).Delete(&models.ThinkingChain{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("conversation_id = ?", conversationID).Delete(&models.Message{}).Error
	})
	if err != nil {
		return apperrors.NewRepositoryError("message", "DeleteByConversation", err, "conversation_id", conversationID)
	}
	return nil
}
