package errors

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorTranslator 错误转换器
type ErrorTranslator struct{}

// NewErrorTranslator 创建错误转换器
func NewErrorTranslator() *ErrorTranslator {
	return &ErrorTranslator{}
}

var defaultTranslator = &ErrorTranslator{}

// ClassifyProviderError 包级快捷方式
func ClassifyProviderError(err error) *AppError {
	return defaultTranslator.ClassifyProviderError(err)
}

// ClassifySearchError 包级快捷方式
func ClassifySearchError(err error) *AppError {
	return defaultTranslator.ClassifySearchError(err)
}

// Translate 包级快捷方式
func Translate(err error) *AppError {
	return defaultTranslator.Translate(err)
}

// Translate 将各种类型的错误转换为AppError
func (t *ErrorTranslator) Translate(err error) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，直接返回
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	// 处理不同类型的错误
	switch e := err.(type) {
	case validator.ValidationErrors:
		return t.translateValidationErrors(e)
	case *net.OpError:
		return NewExternalError(ErrCodeProviderNetwork, "Network error").WithCause(e)
	default:
		errMsg := err.Error()

		// 文件系统错误
		if strings.Contains(errMsg, "no such file") || strings.Contains(errMsg, "permission denied") {
			return NewSystemError(ErrCodeAttachmentUnreadable, "File system error").WithCause(err)
		}

		// 外部服务错误
		if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "timeout") {
			return NewExternalError(ErrCodeProviderNetwork, "External service unavailable").WithCause(err)
		}

		// 默认系统错误
		return NewSystemError(ErrCodeInternalError, "Internal error").WithCause(err)
	}
}

// translateValidationErrors 转换验证错误
func (t *ErrorTranslator) translateValidationErrors(validationErrors validator.ValidationErrors) *AppError {
	var details []map[string]interface{}

	for _, fieldError := range validationErrors {
		detail := map[string]interface{}{
			"field": fieldError.Field(),
			"tag":   fieldError.Tag(),
			"value": fieldError.Value(),
		}
		details = append(details, detail)
	}

	return NewValidationError("Validation failed").
		WithDetails(map[string]interface{}{
			"errors": details,
		})
}

// ClassifyProviderError 将模型服务商错误按名称/消息归入固定分类，并附带处理建议
func (t *ErrorTranslator) ClassifyProviderError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "401") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "incorrect api key") ||
		strings.Contains(msg, "authentication"):
		return NewExternalError(ErrCodeProviderAuth, "Provider authentication failed").
			WithHint("Check the API key in settings").WithCause(err)

	case strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "insufficient"):
		return NewExternalError(ErrCodeProviderQuota, "Provider quota exceeded").
			WithHint("Wait a moment and retry, or check your plan limits").WithCause(err)

	case errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded"):
		return NewExternalError(ErrCodeProviderTimeout, "Provider request timed out").
			WithHint("Check your connection and retry").WithCause(err)

	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof"):
		return NewExternalError(ErrCodeProviderNetwork, "Network error while calling provider").
			WithHint("Check your network connection").WithCause(err)

	default:
		return NewExternalError(ErrCodeProviderUnknown, "Provider request failed").
			WithHint("Retry, or switch to another model").WithCause(err)
	}
}

// ClassifySearchError 将搜索增强错误归类为非致命提示
func (t *ErrorTranslator) ClassifySearchError(err error) *AppError {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "captcha"):
		return NewExternalError(ErrCodeSearchCaptcha, "Search blocked by captcha").
			WithHint("Open the search engine in a browser and solve the captcha").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		return NewExternalError(ErrCodeSearchTimeout, "Search timed out").
			WithHint("The answer was generated without web results").WithCause(err)
	case strings.Contains(msg, "status") || strings.Contains(msg, "api"):
		return NewExternalError(ErrCodeSearchAPI, "Search API error").
			WithHint("Check the search endpoint configuration").WithCause(err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "no such host") || strings.Contains(msg, "dial tcp"):
		return NewExternalError(ErrCodeSearchNetwork, "Search network error").
			WithHint("Check your network connection").WithCause(err)
	default:
		return NewExternalError(ErrCodeSearchParse, "Failed to parse search results").
			WithHint("The answer was generated without web results").WithCause(err)
	}
}
