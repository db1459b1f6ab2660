package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/models"
)

// conversationRepository 会话仓库实现
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Create 创建会话
func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return apperrors.NewRepositoryError("conversation", "Create", err, "conversation_id", conv.ID)
	}
	return nil
}

// GetByID 根据ID获取会话
func (r *conversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("conversation").WithDetails(map[string]interface{}{"conversation_id": id})
		}
		return nil, apperrors.NewRepositoryError("conversation", "GetByID", err, "conversation_id", id)
	}
	return &conv, nil
}

// List 获取会话列表，按更新时间倒序
func (r *conversationRepository) List(ctx context.Context, includeArchived bool) ([]*models.Conversation, error) {
	var convs []*models.Conversation
	query := r.db.WithContext(ctx).Model(&models.Conversation{})
	if !includeArchived {
		query = query.Where("archived = ?", false)
	}
	if err := query.Order("updated_at DESC").Find(&convs).Error; err != nil {
		return nil, apperrors.NewRepositoryError("conversation", "List", err)
	}
	return convs, nil
}

// UpdateTitle 更新会话标题
func (r *conversationRepository) UpdateTitle(ctx context.Context, id string, title string) error {
	err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("title", title).Error
	if err != nil {
		return apperrors.NewRepositoryError("conversation", "UpdateTitle", err, "conversation_id", id)
	}
	return nil
}

// SetArchived 归档/取消归档会话
func (r *conversationRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("archived", archived).Error
	if err != nil {
		return apperrors.NewRepositoryError("conversation", "SetArchived", err, "conversation_id", id)
	}
	return nil
}

// Touch 推进会话更新时间
// 只有消息写入推进updated_at，读取从不推进
func (r *conversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", at).Error
	if err != nil {
		return apperrors.NewRepositoryError("conversation", "Touch", err, "conversation_id", id)
	}
	return nil
}

// MergeExtra 读-改-写合并extra JSON，未知键保留
func (r *conversationRepository) MergeExtra(ctx context.Context, id string, patch map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.Where("id = ?", id).First(&conv).Error; err != nil {
			return apperrors.NewRepositoryError("conversation", "MergeExtra", err, "conversation_id", id)
		}
		merged, err := mergeExtraJSON(conv.Extra, patch)
		if err != nil {
			return apperrors.NewRepositoryError("conversation", "MergeExtra", err, "conversation_id", id)
		}
		if err := tx.Model(&models.Conversation{}).Where("id = ?", id).
			UpdateColumn("extra", merged).Error; err != nil {
			return apperrors.NewRepositoryError("conversation", "MergeExtra", err, "conversation_id", id)
		}
		return nil
	})
}

// Delete 删除会话，级联删除消息、内容块和附件关联
// 附件行本身留给孤儿清扫回收
func (r *conversationRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var messageIDs []string
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ?", id).
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
		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Conversation{}).Error
	})
	if err != nil {
		return apperrors.NewRepositoryError("conversation", "Delete", err, "conversation_id", id)
	}
	return nil
}
