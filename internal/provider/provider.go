package provider

import (
	"context"
	"fmt"
	"sync"
)

// Role 对话角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart 多模态内容片段
type ContentPart struct {
	Type     string // text / image_url
	Text     string
	ImageURL string // data URL或远程URL
}

// Message 发送给模型的单条消息
// Parts非空时走多模态通道，Content被忽略
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

// ChatRequest 一次补全请求
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int  // 0表示不限制
	Stream      bool
}

// StreamEventType 流事件类型
type StreamEventType string

const (
	EventText     StreamEventType = "text"
	EventThinking StreamEventType = "thinking"
	EventToolCall StreamEventType = "tool_call"
	EventDone     StreamEventType = "done"
	EventError    StreamEventType = "error"
)

// ToolCall 模型发起的工具调用
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// Usage token用量
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// StreamEvent 流式响应的单个事件
// Done和Error是终止事件，通道随后关闭
type StreamEvent struct {
	Type     StreamEventType
	Text     string
	ToolCall *ToolCall
	Usage    *Usage
	Err      error
}

// Provider AI模型提供商
type Provider interface {
	// Name 提供商标识
	Name() string

	// Stream 发起流式补全，事件通过通道返回
	// 取消ctx终止流，通道保证关闭
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)

	// Chat 非流式补全，返回完整文本
	Chat(ctx context.Context, req *ChatRequest) (string, error)
}

// Registry 提供商注册表
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register 注册提供商，重名覆盖
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get 按名称获取提供商
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not registered: %s", name)
	}
	return p, nil
}

// List 返回已注册的提供商名称
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
