package models

import (
	"time"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// 消息状态机：pending → sent / failed / cancelled
const (
	MessageStatusPending   = "pending"
	MessageStatusSent      = "sent"
	MessageStatusFailed    = "failed"
	MessageStatusCancelled = "cancelled"
)

// Message 消息表
// Text是扁平化的旧版内容字段，必须与TEXT块按sort_order拼接的结果一致
type Message struct {
	ID             string    `gorm:"primaryKey;column:id;size:36" json:"id"`
	ConversationID string    `gorm:"column:conversation_id;size:36;not null;index" json:"conversation_id"`
	Role           string    `gorm:"column:role;size:20;not null" json:"role"`
	Text           string    `gorm:"type:text;column:text" json:"text"`
	Status         string    `gorm:"column:status;size:20;not null;default:pending" json:"status"`
	ParentID       *string   `gorm:"column:parent_id;size:36" json:"parent_id"`
	Extra          string    `gorm:"type:text;column:extra" json:"extra"` // JSON: 使用的模型、结果元数据等
	CreatedAt      time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// 块类型
const (
	BlockTypeText     = "TEXT"
	BlockTypeTool     = "TOOL"
	BlockTypeThinking = "THINKING"
)

// 块状态
const (
	BlockStatusPending = "PENDING"
	BlockStatusSuccess = "SUCCESS"
	BlockStatusError   = "ERROR"
)

// MessageBlock 消息内容块表
// sort_order在每条消息内稠密单调分配，永不复用
type MessageBlock struct {
	ID         string    `gorm:"primaryKey;column:id;size:36" json:"id"`
	MessageID  string    `gorm:"column:message_id;size:36;not null;index" json:"message_id"`
	Type       string    `gorm:"column:type;size:20;not null" json:"type"`
	Status     string    `gorm:"column:status;size:20;not null;default:PENDING" json:"status"`
	Content    string    `gorm:"type:text;column:content" json:"content"`
	SortOrder  int       `gorm:"column:sort_order;not null" json:"sort_order"`
	ToolCallID string    `gorm:"column:tool_call_id;size:64" json:"tool_call_id,omitempty"`
	ToolName   string    `gorm:"column:tool_name;size:128" json:"tool_name,omitempty"`
	ToolArgs   string    `gorm:"type:text;column:tool_args" json:"tool_args,omitempty"`
	Extra      string    `gorm:"type:text;column:extra" json:"extra"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (MessageBlock) TableName() string {
	return "message_blocks"
}

// ThinkingChain 推理轨迹表，每条消息至多一条
// 仅当服务商暴露推理轨迹时存在，缺失是正常情况
type ThinkingChain struct {
	ID         string    `gorm:"primaryKey;column:id;size:36" json:"id"`
	MessageID  string    `gorm:"column:message_id;size:36;not null;uniqueIndex" json:"message_id"`
	Content    string    `gorm:"type:text;column:content" json:"content"`
	StartTime  time.Time `gorm:"column:start_time" json:"start_time"`
	EndTime    time.Time `gorm:"column:end_time" json:"end_time"`
	DurationMs int64     `gorm:"column:duration_ms" json:"duration_ms"`
	TokenCount int       `gorm:"column:token_count" json:"token_count"`
}

func (ThinkingChain) TableName() string {
	return "thinking_chains"
}

// MessageExtra 消息extra字段里约定的已知键
type MessageExtra struct {
	ModelID  string                 `json:"modelId,omitempty"`
	Usage    *UsageInfo             `json:"usage,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// UsageInfo Token使用信息
type UsageInfo struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
