package common

import (
	"errors"
	"fmt"
)

// AppError 应用级错误结构
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WrapError 包装错误
func WrapError(code, message string, err error) error {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewError 创建新错误
func NewError(code, message string) error {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// 错误码常量
const (
	ErrCodeGitHubAPI    = "GITHUB_API_ERROR"
	ErrCodeCache        = "CACHE_ERROR"
	ErrCodeModel        = "MODEL_ERROR"
	ErrCodeLearning     = "LEARNING_ERROR"
	ErrCodeNotification = "NOTIFICATION_ERROR"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// 错误种类，调用方用 errors.Is 判断
var (
	// ErrNotFound 远程确认仓库不存在，属于永久错误
	ErrNotFound = errors.New("repository not found")
	// ErrRateLimited 请求额度耗尽
	ErrRateLimited = errors.New("rate limit exhausted")
	// ErrTransientFetch 网络错误、5xx、超时等可重试错误
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrModelNotReady 集成模型为空或有成员未训练
	ErrModelNotReady = errors.New("model not ready")
	// ErrLearning 训练流程失败，旧模型继续生效
	ErrLearning = errors.New("learning failed")
	// ErrInvalidInput 输入不是合法的仓库地址
	ErrInvalidInput = errors.New("invalid input")
)

// IsTransient 判断错误是否值得重试
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFetch)
}

// Kind 返回错误所属的种类名，用于日志和指标标签
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTransientFetch):
		return "transient"
	case errors.Is(err, ErrModelNotReady):
		return "model_not_ready"
	case errors.Is(err, ErrLearning):
		return "learning"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
