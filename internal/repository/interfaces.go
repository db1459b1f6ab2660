package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/aichat/client-go/internal/models"
)

// ConversationRepository 会话仓库接口
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	List(ctx context.Context, includeArchived bool) ([]*models.Conversation, error)
	UpdateTitle(ctx context.Context, id string, title string) error
	SetArchived(ctx context.Context, id string, archived bool) error
	Touch(ctx context.Context, id string, at time.Time) error
	MergeExtra(ctx context.Context, id string, patch map[string]interface{}) error
	Delete(ctx context.Context, id string) error
}

// MessageRepository 消息仓库接口
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error)
	ListRecent(ctx context.Context, conversationID string, limit int, after *time.Time) ([]*models.Message, error)
	UpdateStatus(ctx context.Context, id string, status string) error
	UpdateText(ctx context.Context, id string, text string) error
	MergeExtra(ctx context.Context, id string, patch map[string]interface{}) error
	DeleteByConversation(ctx context.Context, conversationID string) error
}

// BlockRepository 内容块仓库接口
type BlockRepository interface {
	Create(ctx context.Context, block *models.MessageBlock) error
	GetByID(ctx context.Context, id string) (*models.MessageBlock, error)
	ListByMessage(ctx context.Context, messageID string) ([]*models.MessageBlock, error)
	ListByMessages(ctx context.Context, messageIDs []string) (map[string][]*models.MessageBlock, error)
	UpdateContent(ctx context.Context, id string, content string) error
	UpdateStatus(ctx context.Context, id string, status string, content string) error
	NextSortOrder(ctx context.Context, messageID string) (int, error)
}

// ThinkingRepository 推理轨迹仓库接口
type ThinkingRepository interface {
	Upsert(ctx context.Context, chain *models.ThinkingChain) error
	GetByMessage(ctx context.Context, messageID string) (*models.ThinkingChain, error)
}

// AttachmentRepository 附件仓库接口
type AttachmentRepository interface {
	Create(ctx context.Context, att *models.Attachment) error
	GetByID(ctx context.Context, id string) (*models.Attachment, error)
	Link(ctx context.Context, messageID, attachmentID string) error
	ListByMessage(ctx context.Context, messageID string) ([]*models.Attachment, error)
	ListOrphans(ctx context.Context) ([]*models.Attachment, error)
	Delete(ctx context.Context, id string) error
}

// Repositories 仓库聚合
type Repositories struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Blocks        BlockRepository
	Thinking      ThinkingRepository
	Attachments   AttachmentRepository
}

// NewRepositories 创建仓库聚合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Conversations: NewConversationRepository(db),
		Messages:      NewMessageRepository(db),
		Blocks:        NewBlockRepository(db),
		Thinking:      NewThinkingRepository(db),
		Attachments:   NewAttachmentRepository(db),
	}
}
