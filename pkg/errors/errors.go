// Package errors 提供统一错误类型与哨兵错误。
//
// 分层:
//   - L1 哨兵错误: ErrNotFound / ErrInvalidInput / ErrTimeout 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
//   - 流式传输错误: TransportError / ProtocolError / StreamTimeoutError,
//     对应聊天流的三类失败面 (非 2xx 响应 / 响应体不可流式 / 读超时)。
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrStreamBusy 同一 thread 已有进行中的流式操作
	ErrStreamBusy = errors.New("stream busy")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "Client.SendMessage"
	Code    string // 错误码，如 "TRANSPORT"、"VALIDATION"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 流式传输错误面
// ========================================

// TransportError 任一请求返回非 2xx 状态。携带状态码与响应体,
// 对用户呈现为可重试的操作失败。
type TransportError struct {
	Op     string
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

// ProtocolError 2xx 状态但响应体缺失或不满足流式协议。
// 重试同一请求形态不会成功, 视为不可重试。
type ProtocolError struct {
	Op      string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol error: %s", e.Op, e.Message)
}

// StreamTimeoutError 单次读取超过约定等待上限, 整个操作需由调用方重发。
// Unwrap 到 ErrTimeout, 调用方用 errors.Is(err, ErrTimeout) 判断可重试。
type StreamTimeoutError struct {
	Op   string
	Wait time.Duration
}

func (e *StreamTimeoutError) Error() string {
	return fmt.Sprintf("%s: no data within %s; retry the whole operation", e.Op, e.Wait)
}

func (e *StreamTimeoutError) Unwrap() error {
	return ErrTimeout
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}
