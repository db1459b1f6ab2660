package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aichat/client-go/internal/config"
	"github.com/aichat/client-go/internal/models"
	"github.com/aichat/client-go/internal/provider"
	"github.com/aichat/client-go/internal/repository"
)

// newTestRepos 内存数据库上的仓库聚合
func newTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Conversation{},
		&models.Message{},
		&models.MessageBlock{},
		&models.ThinkingChain{},
		&models.Attachment{},
		&models.MessageAttachment{},
	))
	return repository.NewRepositories(db)
}

func testAIConfig() *config.AIConfig {
	return &config.AIConfig{
		Provider:     "fake",
		DefaultModel: "test-model",
		Temperature:  0.7,
		ContextCount: 10,
		SystemPrompt: "You are a helpful assistant.",
		VisionModels: []string{"vision-model"},
	}
}

func newConversation(t *testing.T, repos *repository.Repositories) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{ID: uuid.New().String()}
	require.NoError(t, repos.Conversations.Create(context.Background(), conv))
	return conv
}

func newMessage(t *testing.T, repos *repository.Repositories, convID, role, text, status string, at time.Time) *models.Message {
	t.Helper()
	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		Role:           role,
		Text:           text,
		Status:         status,
		CreatedAt:      at,
	}
	require.NoError(t, repos.Messages.Create(context.Background(), msg))
	return msg
}

// fakeProvider 测试用提供商，按脚本回放流事件
type fakeProvider struct {
	events    []provider.StreamEvent
	streamErr error
	chatReply string
	chatErr   error

	// onStream 流建立时回调，用于断言发起网络调用前的落库状态
	onStream func(req *provider.ChatRequest)
	// emitted 全部脚本事件送达后关闭
	emitted chan struct{}
	// hang 脚本放完后挂住直到取消
	hang bool

	lastReq *provider.ChatRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Stream(ctx context.Context, req *provider.ChatRequest) (<-chan provider.StreamEvent, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	f.lastReq = req
	if f.onStream != nil {
		f.onStream(req)
	}

	ch := make(chan provider.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if f.emitted != nil {
			close(f.emitted)
		}
		if f.hang {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (f *fakeProvider) Chat(ctx context.Context, req *provider.ChatRequest) (string, error) {
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.chatReply, nil
}

func newTestRegistry(p provider.Provider) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register(p)
	return registry
}
