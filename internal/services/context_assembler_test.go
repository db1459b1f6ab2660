package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/models"
	"github.com/aichat/client-go/internal/provider"
)

// TestAssembleZeroContextCount 测试contextCount=0只发当前回合
func TestAssembleZeroContextCount(t *testing.T) {
	repos := newTestRepos(t)
	cfg := testAIConfig()
	cfg.ContextCount = 0
	assembler := NewContextAssembler(repos, cfg, nil)

	conv := newConversation(t, repos)
	base := time.Now().Add(-time.Hour)
	newMessage(t, repos, conv.ID, models.RoleUser, "earlier question", models.MessageStatusSent, base)
	newMessage(t, repos, conv.ID, models.RoleAssistant, "earlier answer", models.MessageStatusSent, base.Add(time.Minute))
	userMsg := newMessage(t, repos, conv.ID, models.RoleUser, "current question", models.MessageStatusSent, time.Now())

	req, _, err := assembler.Assemble(context.Background(), conv, userMsg, AssembleOptions{})
	require.NoError(t, err)

	require.Len(t, req.Messages, 1, "无历史也无系统提示词，只有当前回合")
	assert.Equal(t, provider.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "current question", req.Messages[0].Content)
}

// TestAssembleHistoryWindow 测试历史窗口大小和排序
func TestAssembleHistoryWindow(t *testing.T) {
	repos := newTestRepos(t)
	cfg := testAIConfig()
	cfg.ContextCount = 2 // 最多4条历史
	assembler := NewContextAssembler(repos, cfg, nil)

	conv := newConversation(t, repos)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		newMessage(t, repos, conv.ID, role, fmt.Sprintf("m%d", i), models.MessageStatusSent, base.Add(time.Duration(i)*time.Minute))
	}
	userMsg := newMessage(t, repos, conv.ID, models.RoleUser, "now", models.MessageStatusSent, time.Now())

	req, _, err := assembler.Assemble(context.Background(), conv, userMsg, AssembleOptions{})
	require.NoError(t, err)

	// system + 4条历史 + 当前回合
	require.Len(t, req.Messages, 6)
	assert.Equal(t, provider.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "m4", req.Messages[1].Content)
	assert.Equal(t, "m5", req.Messages[2].Content)
	assert.Equal(t, "m6", req.Messages[3].Content)
	assert.Equal(t, "m7", req.Messages[4].Content)
	assert.Equal(t, "now", req.Messages[5].Content, "当前回合必须在最后")
}

// TestAssembleSkipsFailedAndPending 测试历史过滤
func TestAssembleSkipsFailedAndPending(t *testing.T) {
	repos := newTestRepos(t)
	cfg := testAIConfig()
	assembler := NewContextAssembler(repos, cfg, nil)

	conv := newConversation(t, repos)
	base := time.Now().Add(-time.Hour)
	newMessage(t, repos, conv.ID, models.RoleUser, "ok", models.MessageStatusSent, base)
	newMessage(t, repos, conv.ID, models.RoleAssistant, "broken", models.MessageStatusFailed, base.Add(time.Minute))
	newMessage(t, repos, conv.ID, models.RoleAssistant, "stopped", models.MessageStatusCancelled, base.Add(2*time.Minute))
	newMessage(t, repos, conv.ID, models.RoleSystem, "internal", models.MessageStatusSent, base.Add(3*time.Minute))
	userMsg := newMessage(t, repos, conv.ID, models.RoleUser, "now", models.MessageStatusSent, time.Now())

	req, _, err := assembler.Assemble(context.Background(), conv, userMsg, AssembleOptions{})
	require.NoError(t, err)

	var contents []string
	for _, m := range req.Messages {
		if m.Role != provider.RoleSystem {
			contents = append(contents, m.Content)
		}
	}
	assert.Equal(t, []string{"ok", "now"}, contents)
}

// TestAssembleContextReset 测试重置点截断历史
func TestAssembleContextReset(t *testing.T) {
	repos := newTestRepos(t)
	cfg := testAIConfig()
	assembler := NewContextAssembler(repos, cfg, nil)
	ctx := context.Background()

	conv := newConversation(t, repos)
	base := time.Now().Add(-time.Hour)
	newMessage(t, repos, conv.ID, models.RoleUser, "before reset", models.MessageStatusSent, base)
	resetAt := base.Add(30 * time.Minute)
	require.NoError(t, repos.Conversations.MergeExtra(ctx, conv.ID, map[string]interface{}{
		"contextResetAt": resetAt.UnixMilli(),
	}))
	newMessage(t, repos, conv.ID, models.RoleUser, "after reset", models.MessageStatusSent, base.Add(40*time.Minute))
	userMsg := newMessage(t, repos, conv.ID, models.RoleUser, "now", models.MessageStatusSent, time.Now())

	conv, err := repos.Conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	req, _, err := assembler.Assemble(ctx, conv, userMsg, AssembleOptions{})
	require.NoError(t, err)

	for _, m := range req.Messages {
		assert.NotEqual(t, "before reset", m.Content, "重置点之前的消息不得进窗口")
	}
}

// TestAssembleAttachmentSuffix 测试非视觉模型的附件折叠
func TestAssembleAttachmentSuffix(t *testing.T) {
	repos := newTestRepos(t)
	cfg := testAIConfig()
	assembler := NewContextAssembler(repos, cfg, nil)
	ctx := context.Background()

	conv := newConversation(t, repos)
	userMsg := newMessage(t, repos, conv.ID, models.RoleUser, "see these", models.MessageStatusSent, time.Now())
	for i := 0; i < 2; i++ {
		att := &models.Attachment{ID: uuid.New().String(), Kind: models.AttachmentKindFile, Name: fmt.Sprintf("f%d", i)}
		require.NoError(t, repos.Attachments.Create(ctx, att))
		require.NoError(t, repos.Attachments.Link(ctx, userMsg.ID, att.ID))
	}

	req, _, err := assembler.Assemble(ctx, conv, userMsg, AssembleOptions{})
	require.NoError(t, err)

	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, "see these\n[2 attachment(s)]", last.Content)
	assert.Empty(t, last.Parts)
}

// TestAssembleVisionParts 测试视觉模型的多模态分片
func TestAssembleVisionParts(t *testing.T) {
	repos := newTestRepos(t)
	cfg := testAIConfig()
	cfg.DefaultModel = "vision-model"
	assembler := NewContextAssembler(repos, cfg, nil)
	ctx := context.Background()

	dir := t.TempDir()
	firstPath := filepath.Join(dir, "first.png")
	secondPath := filepath.Join(dir, "second.jpg")
	require.NoError(t, os.WriteFile(firstPath, []byte("fake-png-bytes"), 0o644))
	require.NoError(t, os.WriteFile(secondPath, []byte("fake-jpg-bytes"), 0o644))

	conv := newConversation(t, repos)
	userMsg := newMessage(t, repos, conv.ID, models.RoleUser, "what is this", models.MessageStatusSent, time.Now())

	base := time.Now()
	first := &models.Attachment{ID: uuid.New().String(), Kind: models.AttachmentKindImage, Mime: "image/png", URI: firstPath, CreatedAt: base}
	unreadable := &models.Attachment{ID: uuid.New().String(), Kind: models.AttachmentKindImage, Mime: "image/png", URI: filepath.Join(dir, "missing.png"), CreatedAt: base.Add(time.Millisecond)}
	second := &models.Attachment{ID: uuid.New().String(), Kind: models.AttachmentKindImage, Mime: "image/jpeg", URI: secondPath, CreatedAt: base.Add(2 * time.Millisecond)}
	for _, att := range []*models.Attachment{first, unreadable, second} {
		require.NoError(t, repos.Attachments.Create(ctx, att))
		require.NoError(t, repos.Attachments.Link(ctx, userMsg.ID, att.ID))
	}

	req, _, err := assembler.Assemble(ctx, conv, userMsg, AssembleOptions{})
	require.NoError(t, err)

	last := req.Messages[len(req.Messages)-1]
	require.Len(t, last.Parts, 3, "读不到的图片跳过，不致命")
	assert.Equal(t, "text", last.Parts[0].Type)
	assert.Equal(t, "what is this", last.Parts[0].Text)
	assert.Equal(t, "image_url", last.Parts[1].Type)
	assert.True(t, strings.HasPrefix(last.Parts[1].ImageURL, "data:image/png;base64,"))
	assert.Equal(t, "image_url", last.Parts[2].Type)
	assert.True(t, strings.HasPrefix(last.Parts[2].ImageURL, "data:image/jpeg;base64,"))
	assert.Empty(t, last.Content)
}

// TestAssembleNumericSemantics 测试温度精度和maxTokens省略
func TestAssembleNumericSemantics(t *testing.T) {
	repos := newTestRepos(t)
	cfg := testAIConfig()
	cfg.Temperature = 0.75
	cfg.MaxTokens = 4096
	cfg.MaxTokensEnabled = false
	assembler := NewContextAssembler(repos, cfg, nil)

	conv := newConversation(t, repos)
	userMsg := newMessage(t, repos, conv.ID, models.RoleUser, "hi", models.MessageStatusSent, time.Now())

	req, _, err := assembler.Assemble(context.Background(), conv, userMsg, AssembleOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, req.Temperature, 0.001, "温度保留一位小数")
	assert.Zero(t, req.MaxTokens, "未启用时不携带maxTokens")

	cfg.MaxTokensEnabled = true
	req, _, err = assembler.Assemble(context.Background(), conv, userMsg, AssembleOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4096, req.MaxTokens)
}

// TestAssembleModelOverride 测试会话级模型覆盖
func TestAssembleModelOverride(t *testing.T) {
	repos := newTestRepos(t)
	cfg := testAIConfig()
	assembler := NewContextAssembler(repos, cfg, nil)
	ctx := context.Background()

	conv := newConversation(t, repos)
	require.NoError(t, repos.Conversations.MergeExtra(ctx, conv.ID, map[string]interface{}{
		"selectedModel": map[string]interface{}{"provider": "fake", "model": "other-model"},
	}))
	conv, err := repos.Conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)

	userMsg := newMessage(t, repos, conv.ID, models.RoleUser, "hi", models.MessageStatusSent, time.Now())
	req, _, err := assembler.Assemble(ctx, conv, userMsg, AssembleOptions{})
	require.NoError(t, err)
	assert.Equal(t, "other-model", req.Model)
}

// TestAssembleSearchSuccessAppendsBlock 测试搜索结果拼入当前回合
func TestAssembleSearchSuccessAppendsBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"title":"Go","url":"https://go.dev","content":"docs"}]}`))
	}))
	defer server.Close()

	repos := newTestRepos(t)
	search := newSearchService(server.URL)
	assembler := NewContextAssembler(repos, testAIConfig(), search)
	ctx := context.Background()

	conv := newConversation(t, repos)
	userMsg := newMessage(t, repos, conv.ID, models.RoleUser, "what is go", models.MessageStatusSent, time.Now())

	req, notice, err := assembler.Assemble(ctx, conv, userMsg, AssembleOptions{EnableSearch: true})
	require.NoError(t, err)
	assert.Nil(t, notice)

	last := req.Messages[len(req.Messages)-1]
	assert.Contains(t, last.Content, "what is go")
	assert.Contains(t, last.Content, "https://go.dev", "搜索结果应拼在回合末尾")
}

// TestAssembleSearchFailureDegrades 测试搜索失败降级
// 请求照常组装，降级原因归类后带回给调用方
func TestAssembleSearchFailureDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	repos := newTestRepos(t)
	search := newSearchService(server.URL)
	assembler := NewContextAssembler(repos, testAIConfig(), search)
	ctx := context.Background()

	conv := newConversation(t, repos)
	userMsg := newMessage(t, repos, conv.ID, models.RoleUser, "what is go", models.MessageStatusSent, time.Now())

	req, notice, err := assembler.Assemble(ctx, conv, userMsg, AssembleOptions{EnableSearch: true})
	require.NoError(t, err, "搜索失败不得中断本轮")
	require.NotNil(t, notice)
	assert.Equal(t, apperrors.ErrCodeSearchCaptcha, notice.Code)
	assert.NotEmpty(t, notice.Hint)

	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, "what is go", last.Content, "降级后不拼搜索块")
}
