package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aichat/client-go/internal/config"
	apperrors "github.com/aichat/client-go/internal/errors"
	"github.com/aichat/client-go/internal/models"
)

func newTestAttachmentService(t *testing.T) (*AttachmentService, string) {
	t.Helper()
	dir := t.TempDir()
	repos := newTestRepos(t)
	svc := NewAttachmentService(repos, &config.AttachmentConfig{
		Dir:     filepath.Join(dir, "attachments"),
		MaxSize: 1024 * 1024,
	})
	return svc, dir
}

// TestImportCopiesIntoAppDir 测试导入拷贝到应用目录
func TestImportCopiesIntoAppDir(t *testing.T) {
	svc, dir := newTestAttachmentService(t)
	ctx := context.Background()

	src := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(src, []byte("png-data"), 0o644))

	att, err := svc.Import(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, models.AttachmentKindImage, att.Kind)
	assert.Equal(t, "image/png", att.Mime)
	assert.Equal(t, "photo.png", att.Name)
	assert.EqualValues(t, 8, att.Size)
	assert.NotEmpty(t, att.SHA256)

	// URI指向应用目录里的拷贝，不引用调用方路径
	assert.NotEqual(t, src, att.URI)
	copied, err := os.ReadFile(att.URI)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-data"), copied)

	// 删掉原文件后附件仍可读
	require.NoError(t, os.Remove(src))
	_, err = os.ReadFile(att.URI)
	assert.NoError(t, err)
}

// TestImportValidatesInput 测试空路径被校验拒绝
func TestImportValidatesInput(t *testing.T) {
	svc, _ := newTestAttachmentService(t)

	_, err := svc.Import(context.Background(), "")
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, appErr.Code)
	assert.NotNil(t, appErr.Details["errors"], "校验错误应带字段明细")
}

// TestImportWithDefaultAllowedTypes 测试默认白名单下常见类型可导入
// 白名单条目是扩展名写法，导入判定按扩展名匹配
func TestImportWithDefaultAllowedTypes(t *testing.T) {
	svc, dir := newTestAttachmentService(t)
	svc.config.AllowedTypes = []string{".png", ".jpg", ".jpeg", ".webp", ".pdf", ".txt", ".md"}
	ctx := context.Background()

	src := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(src, []byte("png-data"), 0o644))

	att, err := svc.Import(ctx, src)
	require.NoError(t, err, "默认白名单应放行png")
	assert.Equal(t, "image/png", att.Mime)

	blocked := filepath.Join(dir, "archive.zip")
	require.NoError(t, os.WriteFile(blocked, []byte("zip-data"), 0o644))
	_, err = svc.Import(ctx, blocked)
	require.Error(t, err, "白名单外的扩展名应拒绝")
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.GetAppError(err).Code)
}

// TestImportAllowsMimePattern 测试MIME通配写法的白名单
func TestImportAllowsMimePattern(t *testing.T) {
	svc, dir := newTestAttachmentService(t)
	svc.config.AllowedTypes = []string{"image/*", "application/pdf"}
	ctx := context.Background()

	src := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpg-data"), 0o644))
	att, err := svc.Import(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", att.Mime)

	blocked := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(blocked, []byte("text"), 0o644))
	_, err = svc.Import(ctx, blocked)
	require.Error(t, err)
}

// TestImportRejectsOversize 测试大小上限
func TestImportRejectsOversize(t *testing.T) {
	svc, dir := newTestAttachmentService(t)
	svc.config.MaxSize = 4

	src := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(src, []byte("too large"), 0o644))

	_, err := svc.Import(context.Background(), src)
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeAttachmentTooLarge, appErr.Code)
}

// TestImportUnreadableSource 测试源文件不可读
func TestImportUnreadableSource(t *testing.T) {
	svc, dir := newTestAttachmentService(t)

	_, err := svc.Import(context.Background(), filepath.Join(dir, "missing.png"))
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeAttachmentUnreadable, appErr.Code)
}

// TestSweepOrphans 测试孤儿附件回收
// 零引用的附件连行带文件删除，有引用的永不回收
func TestSweepOrphans(t *testing.T) {
	svc, dir := newTestAttachmentService(t)
	ctx := context.Background()

	for _, name := range []string{"kept.png", "orphan.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	kept, err := svc.Import(ctx, filepath.Join(dir, "kept.png"))
	require.NoError(t, err)
	orphan, err := svc.Import(ctx, filepath.Join(dir, "orphan.png"))
	require.NoError(t, err)

	conv := newConversation(t, svc.repos)
	msg := newMessage(t, svc.repos, conv.ID, models.RoleUser, "with image", models.MessageStatusSent, time.Now())
	require.NoError(t, svc.Attach(ctx, msg.ID, kept.ID))

	removed, err := svc.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// 孤儿的行和文件都没了
	_, err = svc.repos.Attachments.GetByID(ctx, orphan.ID)
	require.Error(t, err)
	_, err = os.Stat(orphan.URI)
	assert.True(t, os.IsNotExist(err))

	// 被引用的原样保留
	got, err := svc.repos.Attachments.GetByID(ctx, kept.ID)
	require.NoError(t, err)
	_, err = os.Stat(got.URI)
	assert.NoError(t, err)
}
