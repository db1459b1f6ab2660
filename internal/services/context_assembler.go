package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/aichat/client-go/internal/config"
	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/logger"
	"github.com/aichat/client-go/internal/models"
	"github.com/aichat/client-go/internal/provider"
	"github.com/aichat/client-go/internal/repository"
)

// ContextAssembler 上下文组装器
// 把系统提示词、历史窗口和当前回合（含附件与搜索增强）拼成一次模型请求
type ContextAssembler struct {
	repos  *repository.Repositories
	config *config.AIConfig
	search *SearchService
	logger *zap.Logger
}

// NewContextAssembler 创建上下文组装器
func NewContextAssembler(repos *repository.Repositories, cfg *config.AIConfig, search *SearchService) *ContextAssembler {
	return &ContextAssembler{
		repos:  repos,
		config: cfg,
		search: search,
		logger: logger.GetLogger(),
	}
}

// AssembleOptions 单次组装的可选项
type AssembleOptions struct {
	// EnableSearch 本轮是否执行搜索增强
	EnableSearch bool
	// SearchQuery 搜索词，为空时用当前回合全文
	SearchQuery string
}

// Assemble 组装一次补全请求
// contextCount为0时不带系统提示词和历史，只发当前回合；
// 否则历史窗口取最近contextCount*2条已完成消息，按时间升序排列，
// 会话extra里contextResetAt之前的消息被截断。
// 搜索增强失败不中断本轮，降级原因通过第二个返回值交给调用方展示
func (a *ContextAssembler) Assemble(ctx context.Context, conv *models.Conversation, userMsg *models.Message, opts AssembleOptions) (*provider.ChatRequest, *apperrors.AppError, error) {
	extra, err := conv.ParsedExtra()
	if err != nil {
		a.logger.Warn("Failed to parse conversation extra, ignoring",
			zap.String("conversation_id", conv.ID), zap.Error(err))
		extra = &models.ConversationExtra{}
	}

	model := a.config.DefaultModel
	if extra.SelectedModel != nil && extra.SelectedModel.Model != "" {
		model = extra.SelectedModel.Model
	}

	messages := make([]provider.Message, 0, a.config.ContextCount*2+2)
	if a.config.ContextCount > 0 {
		if a.config.SystemPrompt != "" {
			messages = append(messages, provider.Message{
				Role:    provider.RoleSystem,
				Content: a.config.SystemPrompt,
			})
		}
		history, err := a.loadHistory(ctx, conv, extra, userMsg)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, history...)
	}

	current, searchNotice, err := a.buildCurrentTurn(ctx, userMsg, model, opts)
	if err != nil {
		return nil, nil, err
	}
	messages = append(messages, current)

	req := &provider.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: roundTemperature(a.config.Temperature),
		Stream:      true,
	}
	if a.config.MaxTokensEnabled {
		req.MaxTokens = a.config.MaxTokens
	}

	a.logger.Debug("Context assembled",
		zap.String("conversation_id", conv.ID),
		zap.String("model", model),
		zap.Int("messages", len(messages)))
	return req, searchNotice, nil
}

// loadHistory 取历史窗口
// 当前回合和助手占位已经落库，查询时多取两条再剔除；
// 历史只保留user/assistant角色里已送达的消息，拍平成纯文本
func (a *ContextAssembler) loadHistory(ctx context.Context, conv *models.Conversation, extra *models.ConversationExtra, userMsg *models.Message) ([]provider.Message, error) {
	var after *time.Time
	if extra.ContextResetAt != nil {
		t := time.UnixMilli(*extra.ContextResetAt)
		after = &t
	}

	limit := a.config.ContextCount * 2
	rows, err := a.repos.Messages.ListRecent(ctx, conv.ID, limit+2, after)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	history := make([]provider.Message, 0, limit)
	for _, msg := range rows {
		if msg.ID == userMsg.ID {
			continue
		}
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		if msg.Status != models.MessageStatusSent || msg.Text == "" {
			continue
		}
		history = append(history, provider.Message{Role: msg.Role, Content: msg.Text})
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// buildCurrentTurn 构造当前回合
// 视觉模型带图片时走多模态分片，图片在发送时刻读盘转base64，
// 读不到的跳过不致命；其余情况折叠为单条文本，带确定性的附件数后缀；
// 搜索增强块拼在回合文本末尾
func (a *ContextAssembler) buildCurrentTurn(ctx context.Context, userMsg *models.Message, model string, opts AssembleOptions) (provider.Message, *apperrors.AppError, error) {
	pm := provider.Message{Role: provider.RoleUser, Content: userMsg.Text}

	attachments, err := a.repos.Attachments.ListByMessage(ctx, userMsg.ID)
	if err != nil {
		return pm, nil, fmt.Errorf("failed to load message attachments: %w", err)
	}

	searchBlock := ""
	var searchNotice *apperrors.AppError
	if opts.EnableSearch && a.search != nil && a.search.Enabled() {
		query := opts.SearchQuery
		if query == "" {
			query = userMsg.Text
		}
		searchBlock, searchNotice = a.runSearch(ctx, query)
	}

	var images []*models.Attachment
	for _, att := range attachments {
		if att.Kind == models.AttachmentKindImage {
			images = append(images, att)
		}
	}

	if a.config.IsVisionModel(model) && len(images) > 0 {
		text := userMsg.Text
		if searchBlock != "" {
			text = text + "\n\n" + searchBlock
		}
		parts := make([]provider.ContentPart, 0, len(images)+1)
		if text != "" {
			parts = append(parts, provider.ContentPart{Type: "text", Text: text})
		}
		for _, img := range images {
			dataURL, err := encodeImageDataURL(img)
			if err != nil {
				a.logger.Warn("Skipping unreadable image attachment",
					zap.String("attachment_id", img.ID),
					zap.String("uri", img.URI),
					zap.Error(err))
				continue
			}
			parts = append(parts, provider.ContentPart{Type: "image_url", ImageURL: dataURL})
		}
		if len(parts) > 0 {
			pm.Content = ""
			pm.Parts = parts
			return pm, searchNotice, nil
		}
	}

	text := userMsg.Text
	if len(attachments) > 0 {
		text = fmt.Sprintf("%s\n[%d attachment(s)]", text, len(attachments))
	}
	if searchBlock != "" {
		text = text + "\n\n" + searchBlock
	}
	pm.Content = text
	return pm, searchNotice, nil
}

// runSearch 执行搜索增强
// 失败降级为空块并把归类后的错误带回去，本轮照常进行
func (a *ContextAssembler) runSearch(ctx context.Context, query string) (string, *apperrors.AppError) {
	if query == "" {
		return "", nil
	}
	results, appErr := a.search.Search(ctx, query)
	if appErr != nil {
		a.logger.Warn("Search augmentation failed, continuing without results",
			zap.String("code", string(appErr.Code)),
			zap.String("hint", appErr.Hint))
		return "", appErr
	}
	return FormatResults(query, results), nil
}

// encodeImageDataURL 读图片转data URL
func encodeImageDataURL(att *models.Attachment) (string, error) {
	data, err := os.ReadFile(att.URI)
	if err != nil {
		return "", err
	}
	mime := att.Mime
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}

// roundTemperature 温度保留一位小数
func roundTemperature(t float64) float32 {
	return float32(math.Round(t*10) / 10)
}
