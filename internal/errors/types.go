package errors

import (
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalError   ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeOperationFailed ErrorCode = "OPERATION_FAILED"
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"

	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeMissingRequired  ErrorCode = "MISSING_REQUIRED"

	// 持久化错误
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"

	// 流式管线错误
	ErrCodeAssemblyFailed ErrorCode = "ASSEMBLY_FAILED"
	ErrCodeStreamBusy     ErrorCode = "STREAM_BUSY"

	// 模型服务商错误
	ErrCodeProviderAuth    ErrorCode = "PROVIDER_AUTH"
	ErrCodeProviderNetwork ErrorCode = "PROVIDER_NETWORK"
	ErrCodeProviderTimeout ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeProviderQuota   ErrorCode = "PROVIDER_QUOTA"
	ErrCodeProviderUnknown ErrorCode = "PROVIDER_UNKNOWN"

	// 搜索增强错误
	ErrCodeSearchCaptcha ErrorCode = "SEARCH_CAPTCHA"
	ErrCodeSearchTimeout ErrorCode = "SEARCH_TIMEOUT"
	ErrCodeSearchAPI     ErrorCode = "SEARCH_API"
	ErrCodeSearchNetwork ErrorCode = "SEARCH_NETWORK"
	ErrCodeSearchParse   ErrorCode = "SEARCH_PARSE"

	// 附件错误
	ErrCodeAttachmentTooLarge   ErrorCode = "ATTACHMENT_TOO_LARGE"
	ErrCodeAttachmentUnreadable ErrorCode = "ATTACHMENT_UNREADABLE"
	ErrCodeInvalidFileFormat    ErrorCode = "INVALID_FILE_FORMAT"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Type    ErrorType              `json:"type"`
	Hint    string                 `json:"hint,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithHint 添加用户可见的处理建议
func (e *AppError) WithHint(hint string) *AppError {
	e.Hint = hint
	return e
}

// 错误构造函数

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Type:    ErrorTypeSystem,
	}
}

// NewBusinessError 创建业务错误
func NewBusinessError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Type:    ErrorTypeBusiness,
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidationFailed,
		Message: message,
		Type:    ErrorTypeValidation,
	}
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Type:    ErrorTypeBusiness,
	}
}

// NewExternalError 创建外部服务错误
func NewExternalError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Type:    ErrorTypeExternal,
	}
}

// NewRepositoryError 创建持久化错误，附带仓库名、方法名和业务上下文
// 持久化错误不允许静默吞掉，必须带上下文向上传播
func NewRepositoryError(repo, method string, err error, kv ...interface{}) *AppError {
	details := make(map[string]interface{}, len(kv)/2+2)
	details["repository"] = repo
	details["method"] = method
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			details[key] = kv[i+1]
		}
	}
	return &AppError{
		Code:    ErrCodeDatabaseError,
		Message: fmt.Sprintf("%s.%s failed", repo, method),
		Type:    ErrorTypeSystem,
		Details: details,
		Cause:   err,
	}
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	return NewSystemError(ErrCodeInternalError, "Internal error").WithCause(err)
}
