package models

import (
	"time"
)

// 附件类型
const (
	AttachmentKindImage = "image"
	AttachmentKindFile  = "file"
)

// Attachment 附件表
// URI指向应用私有目录内的副本，创建时从调用方路径拷入，附件独占所有权
type Attachment struct {
	ID         string    `gorm:"primaryKey;column:id;size:36" json:"id"`
	Kind       string    `gorm:"column:kind;size:10;not null" json:"kind"`
	Mime       string    `gorm:"column:mime;size:100" json:"mime"`
	Name       string    `gorm:"column:name;size:255" json:"name"`
	URI        string    `gorm:"column:uri;size:500;not null" json:"uri"`
	Size       int64     `gorm:"column:size" json:"size"`
	Width      *int      `gorm:"column:width" json:"width,omitempty"`
	Height     *int      `gorm:"column:height" json:"height,omitempty"`
	DurationMs *int64    `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	SHA256     string    `gorm:"column:sha256;size:64;index" json:"sha256"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Attachment) TableName() string {
	return "attachments"
}

// MessageAttachment 消息-附件关联表
// 引用计数降为零的附件由孤儿清扫回收，从不立即删除
type MessageAttachment struct {
	MessageID    string `gorm:"primaryKey;column:message_id;size:36" json:"message_id"`
	AttachmentID string `gorm:"primaryKey;column:attachment_id;size:36" json:"attachment_id"`
}

func (MessageAttachment) TableName() string {
	return "message_attachments"
}
