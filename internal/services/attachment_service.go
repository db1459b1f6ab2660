package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aichat/client-go/internal/config"
	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/logger"
	"github.com/aichat/client-go/internal/models"
	"github.com/aichat/client-go/internal/repository"
)

// AttachmentService 附件管理
// 导入时把源文件拷入应用目录，消息删除后由清理任务回收孤儿附件
type AttachmentService struct {
	repos    *repository.Repositories
	config   *config.AttachmentConfig
	validate *validator.Validate
	logger   *zap.Logger
}

// NewAttachmentService 创建附件服务
func NewAttachmentService(repos *repository.Repositories, cfg *config.AttachmentConfig) *AttachmentService {
	return &AttachmentService{
		repos:    repos,
		config:   cfg,
		validate: validator.New(),
		logger:   logger.GetLogger(),
	}
}

// ImportRequest 附件导入入参
type ImportRequest struct {
	Path string `validate:"required"`
}

// Import 导入本地文件为附件
func (s *AttachmentService) Import(ctx context.Context, srcPath string) (*models.Attachment, error) {
	if err := s.validate.Struct(&ImportRequest{Path: srcPath}); err != nil {
		return nil, apperrors.Translate(err)
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeAttachmentUnreadable,
			fmt.Sprintf("cannot read attachment source: %s", srcPath)).WithCause(err)
	}
	if s.config.MaxSize > 0 && info.Size() > s.config.MaxSize {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeAttachmentTooLarge,
			fmt.Sprintf("attachment exceeds size limit: %d > %d", info.Size(), s.config.MaxSize))
	}

	ext := strings.ToLower(filepath.Ext(srcPath))
	mime := mimeByExtension(srcPath)
	if !s.typeAllowed(ext, mime) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("attachment type not allowed: %s", mime))
	}

	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment dir: %w", err)
	}

	id := uuid.New().String()
	destPath := filepath.Join(s.config.Dir, id+filepath.Ext(srcPath))
	sum, err := copyWithChecksum(srcPath, destPath)
	if err != nil {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeAttachmentUnreadable,
			fmt.Sprintf("failed to copy attachment: %s", srcPath)).WithCause(err)
	}

	att := &models.Attachment{
		ID:     id,
		Kind:   kindForMime(mime),
		Mime:   mime,
		Name:   filepath.Base(srcPath),
		URI:    destPath,
		Size:   info.Size(),
		SHA256: sum,
	}
	if err := s.repos.Attachments.Create(ctx, att); err != nil {
		os.Remove(destPath)
		return nil, err
	}

	s.logger.Info("Attachment imported",
		zap.String("attachment_id", att.ID),
		zap.String("mime", att.Mime),
		zap.Int64("size", att.Size))
	return att, nil
}

// Attach 把附件关联到消息
func (s *AttachmentService) Attach(ctx context.Context, messageID, attachmentID string) error {
	return s.repos.Attachments.Link(ctx, messageID, attachmentID)
}

// SweepOrphans 删除不再被任何消息引用的附件，文件和记录一并清理
// 返回回收数量
func (s *AttachmentService) SweepOrphans(ctx context.Context) (int, error) {
	orphans, err := s.repos.Attachments.ListOrphans(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, att := range orphans {
		if att.URI != "" {
			if err := os.Remove(att.URI); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("Failed to remove attachment file",
					zap.String("attachment_id", att.ID),
					zap.String("uri", att.URI),
					zap.Error(err))
				continue
			}
		}
		if err := s.repos.Attachments.Delete(ctx, att.ID); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Orphan attachments swept", zap.Int("removed", removed))
	}
	return removed, nil
}

// typeAllowed 检查附件类型白名单
// 白名单条目支持两种写法：以点开头的扩展名（".png"）和MIME模式（"image/png"、"image/*"）
func (s *AttachmentService) typeAllowed(ext, mime string) bool {
	if len(s.config.AllowedTypes) == 0 {
		return true
	}
	for _, t := range s.config.AllowedTypes {
		if strings.HasPrefix(t, ".") {
			if strings.EqualFold(t, ext) {
				return true
			}
			continue
		}
		if t == mime || (strings.HasSuffix(t, "/*") && strings.HasPrefix(mime, strings.TrimSuffix(t, "*"))) {
			return true
		}
	}
	return false
}

func copyWithChecksum(src, dest string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		os.Remove(dest)
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func mimeByExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func kindForMime(mime string) string {
	if strings.HasPrefix(mime, "image/") {
		return models.AttachmentKindImage
	}
	return models.AttachmentKindFile
}
