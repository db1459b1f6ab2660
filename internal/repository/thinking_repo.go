package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/models"
)

// thinkingRepository 推理轨迹仓库实现
type thinkingRepository struct {
	db *gorm.DB
}

// NewThinkingRepository 创建推理轨迹仓库
func NewThinkingRepository(db *gorm.DB) ThinkingRepository {
	return &thinkingRepository{db: db}
}

// Upsert 写入推理轨迹，每条消息至多一条
func (r *thinkingRepository) Upsert(ctx context.Context, chain *models.ThinkingChain) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"content", "start_time", "end_time", "duration_ms", "token_count",
		}),
	}).Create(chain).Error
	if err != nil {
		return apperrors.NewRepositoryError("thinking", "Upsert", err, "message_id", chain.MessageID)
	}
	return nil
}

// GetByMessage 获取消息的推理轨迹，不存在返回nil（正常情况，不是错误）
func (r *thinkingRepository) GetByMessage(ctx context.Context, messageID string) (*models.ThinkingChain, error) {
	var chain models.ThinkingChain
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&chain).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.NewRepositoryError("thinking", "GetByMessage", err, "message_id", messageID)
	}
	return &chain, nil
}
