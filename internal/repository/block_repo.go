package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/models"
)

// blockRepository 内容块仓库实现
type blockRepository struct {
	db *gorm.DB
}

// NewBlockRepository 创建内容块仓库
func NewBlockRepository(db *gorm.DB) BlockRepository {
	return &blockRepository{db: db}
}

// Create 创建内容块
// SortOrder未设置时（-1）在同一事务内取下一个稠密序号
func (r *blockRepository) Create(ctx context.Context, block *models.MessageBlock) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if block.SortOrder < 0 {
			next, err := nextSortOrder(tx, block.MessageID)
			if err != nil {
				return err
			}
			block.SortOrder = next
		}
		return tx.Create(block).Error
	})
	if err != nil {
		return apperrors.NewRepositoryError("block", "Create", err,
			"message_id", block.MessageID, "block_id", block.ID)
	}
	return nil
}

// nextSortOrder 消息内下一个稠密序号，在调用方的事务内执行
func nextSortOrder(tx *gorm.DB, messageID string) (int, error) {
	var next int
	row := tx.Model(&models.MessageBlock{}).
		Where("message_id = ?", messageID).
		Select("COALESCE(MAX(sort_order) + 1, 0)").
		Row()
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

// GetByID 根据ID获取内容块
func (r *blockRepository) GetByID(ctx context.Context, id string) (*models.MessageBlock, error) {
	var block models.MessageBlock
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&block).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("message block").WithDetails(map[string]interface{}{"block_id": id})
		}
		return nil, apperrors.NewRepositoryError("block", "GetByID", err, "block_id", id)
	}
	return &block, nil
}

// ListByMessage 获取消息的内容块，按sort_order升序
func (r *blockRepository) ListByMessage(ctx context.Context, messageID string) ([]*models.MessageBlock, error) {
	var blocks []*models.MessageBlock
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("sort_order ASC").
		Find(&blocks).Error
	if err != nil {
		return nil, apperrors.NewRepositoryError("block", "ListByMessage", err, "message_id", messageID)
	}
	return blocks, nil
}

// ListByMessages 批量获取多条消息的内容块，单条查询
// 列表视图不允许为每条可见消息发一次查询
func (r *blockRepository) ListByMessages(ctx context.Context, messageIDs []string) (map[string][]*models.MessageBlock, error) {
	result := make(map[string][]*models.MessageBlock, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}

	var blocks []*models.MessageBlock
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("message_id ASC, sort_order ASC").
		Find(&blocks).Error
	if err != nil {
		return nil, apperrors.NewRepositoryError("block", "ListByMessages", err, "count", len(messageIDs))
	}

	for _, b := range blocks {
		result[b.MessageID] = append(result[b.MessageID], b)
	}
	return result, nil
}

// UpdateContent 更新块内容
func (r *blockRepository) UpdateContent(ctx context.Context, id string, content string) error {
	err := r.db.WithContext(ctx).Model(&models.MessageBlock{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":    content,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return apperrors.NewRepositoryError("block", "UpdateContent", err, "block_id", id)
	}
	return nil
}

// UpdateStatus 更新块状态，content非空时一并写入（工具结果）
func (r *blockRepository) UpdateStatus(ctx context.Context, id string, status string, content string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if content != "" {
		updates["content"] = content
	}
	err := r.db.WithContext(ctx).Model(&models.MessageBlock{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return apperrors.NewRepositoryError("block", "UpdateStatus", err, "block_id", id, "status", status)
	}
	return nil
}

// NextSortOrder 取消息内下一个稠密序号
func (r *blockRepository) NextSortOrder(ctx context.Context, messageID string) (int, error) {
	next, err := nextSortOrder(r.db.WithContext(ctx), messageID)
	if err != nil {
		return 0, apperrors.NewRepositoryError("block", "NextSortOrder", err, "message_id", messageID)
	}
	return next, nil
}
