package monitor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 会话或面试不存在
	ErrNotFound = errors.New("not found")
	// ErrValidation 缺少必填标识
	ErrValidation = errors.New("validation failed")
	// ErrRemoteService 远程分析引擎调用失败
	ErrRemoteService = errors.New("remote service error")
)

// NotFoundError 未知的sessionId或interviewId
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// SessionNotFound 构造会话不存在错误
func SessionNotFound(id string) error {
	return &NotFoundError{Kind: "monitoring session", ID: id}
}

// InterviewNotFound 构造面试不存在错误
func InterviewNotFound(id string) error {
	return &NotFoundError{Kind: "interview", ID: id}
}

// ValidationError 请求缺少必填字段
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RemoteServiceError 远程引擎超时、网络错误或非成功响应。
// 不会返回给调用方，只用于日志和指标。
type RemoteServiceError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}

func (e *RemoteServiceError) Is(target error) bool {
	return target == ErrRemoteService
}
