package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/models"
)

// attachmentRepository 附件仓库实现
type attachmentRepository struct {
	db *gorm.DB
}

// NewAttachmentRepository 创建附件仓库
func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

// Create 创建附件
func (r *attachmentRepository) Create(ctx context.Context, att *models.Attachment) error {
	if err := r.db.WithContext(ctx).Create(att).Error; err != nil {
		return apperrors.NewRepositoryError("attachment", "Create", err, "attachment_id", att.ID)
	}
	return nil
}

// GetByID 根据ID获取附件
func (r *attachmentRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	var att models.Attachment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&att).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("attachment").WithDetails(map[string]interface{}{"attachment_id": id})
		}
		return nil, apperrors.NewRepositoryError("attachment", "GetByID", err, "attachment_id", id)
	}
	return &att, nil
}

// Link 建立消息-附件关联
func (r *attachmentRepository) Link(ctx context.Context, messageID, attachmentID string) error {
	link := &models.MessageAttachment{MessageID: messageID, AttachmentID: attachmentID}
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		return apperrors.NewRepositoryError("attachment", "Link", err,
			"message_id", messageID, "attachment_id", attachmentID)
	}
	return nil
}

// ListByMessage 获取消息关联的附件，按附件创建时间升序
func (r *attachmentRepository) ListByMessage(ctx context.Context, messageID string) ([]*models.Attachment, error) {
	var atts []*models.Attachment
	err := r.db.WithContext(ctx).
		Joins("JOIN message_attachments ma ON ma.attachment_id = attachments.id").
		Where("ma.message_id = ?", messageID).
		Order("attachments.created_at ASC").
		Find(&atts).Error
	if err != nil {
		return nil, apperrors.NewRepositoryError("attachment", "ListByMessage", err, "message_id", messageID)
	}
	return atts, nil
}

// ListOrphans 列出引用计数为零的附件
func (r *attachmentRepository) ListOrphans(ctx context.Context) ([]*models.Attachment, error) {
	var atts []*models.Attachment
	err := r.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM message_attachments ma WHERE ma.attachment_id = attachments.id)").
		Find(&atts).Error
	if err != nil {
		return nil, apperrors.NewRepositoryError("attachment", "ListOrphans", err)
	}
	return atts, nil
}

// Delete 删除附件行
func (r *attachmentRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Attachment{}).Error; err != nil {
		return apperrors.NewRepositoryError("attachment", "Delete", err, "attachment_id", id)
	}
	return nil
}
