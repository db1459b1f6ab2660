package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aichat/client-go/internal/config"
	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/logger"
)

// SearchResult 单条搜索结果
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"content"`
}

// SearchService 网络搜索服务
// 结果拼入模型上下文，搜索失败不阻断对话
type SearchService struct {
	config *config.SearchConfig
	client *http.Client
	logger *zap.Logger
}

// NewSearchService 创建搜索服务
func NewSearchService(cfg *config.SearchConfig) *SearchService {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SearchService{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.GetLogger(),
	}
}

// Enabled 搜索是否可用
func (s *SearchService) Enabled() bool {
	return s.config.Enabled && s.config.Endpoint != ""
}

// Search 执行搜索，错误已归类并带修复提示
func (s *SearchService) Search(ctx context.Context, query string) ([]SearchResult, *apperrors.AppError) {
	endpoint := fmt.Sprintf("%s?q=%s&format=json", s.config.Endpoint, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.ClassifySearchError(fmt.Errorf("failed to build search request: %w", err))
	}
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("Search request failed", zap.String("query", query), zap.Error(err))
		return nil, apperrors.ClassifySearchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("search api returned status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
			err = fmt.Errorf("search blocked, captcha or rate limit: status %d", resp.StatusCode)
		}
		return nil, apperrors.ClassifySearchError(err)
	}

	var body struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.ClassifySearchError(fmt.Errorf("failed to parse search response: %w", err))
	}

	max := s.config.MaxResults
	if max <= 0 {
		max = 5
	}
	if len(body.Results) > max {
		body.Results = body.Results[:max]
	}

	s.logger.Info("Search completed",
		zap.String("query", query),
		zap.Int("results", len(body.Results)))
	return body.Results, nil
}

// FormatResults 把搜索结果格式化为上下文片段
func FormatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Web search results for \"")
	sb.WriteString(query)
	sb.WriteString("\":\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n%s\n%s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return sb.String()
}
