package models

import (
	"encoding/json"
	"time"
)

// Conversation 会话表
type Conversation struct {
	ID        string    `gorm:"primaryKey;column:id;size:36" json:"id"`
	Title     *string   `gorm:"column:title;size:255" json:"title"`
	Archived  bool      `gorm:"column:archived;default:false;index" json:"archived"`
	Extra     string    `gorm:"type:text;column:extra" json:"extra"` // JSON: contextResetAt、selectedModel等
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;index" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ParsedExtra 解析extra里的已知键，空extra返回零值结构
func (c *Conversation) ParsedExtra() (*ConversationExtra, error) {
	extra := &ConversationExtra{}
	if c.Extra == "" {
		return extra, nil
	}
	if err := json.Unmarshal([]byte(c.Extra), extra); err != nil {
		return nil, err
	}
	return extra, nil
}

// ConversationExtra 会话extra字段里约定的已知键
// extra按读-改-写合并，未知键必须原样保留
type ConversationExtra struct {
	ContextResetAt *int64         `json:"contextResetAt,omitempty"`
	SelectedModel  *SelectedModel `json:"selectedModel,omitempty"`
}

// SelectedModel 会话级模型覆盖
type SelectedModel struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}
