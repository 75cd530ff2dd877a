// errors_test.go — 验证 AppError / 流式错误面的行为契约。
package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// TestWrapUnwrap 验证 Wrap 保留原始错误链，errors.Is 和 errors.As 正常工作。
func TestWrapUnwrap(t *testing.T) {
	original := ErrNotFound
	wrapped := Wrap(original, "Client.GetChangeSet", "change set not found")

	// errors.Is 能通过 Wrap 找到哨兵错误
	if !errors.Is(wrapped, ErrNotFound) {
		t.Errorf("errors.Is(wrapped, ErrNotFound) = false, want true")
	}

	// errors.Is 对不相关错误返回 false
	if errors.Is(wrapped, ErrTimeout) {
		t.Errorf("errors.Is(wrapped, ErrTimeout) = true, want false")
	}

	// errors.As 能提取 AppError
	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "Client.GetChangeSet" {
		t.Errorf("Op = %q, want %q", appErr.Op, "Client.GetChangeSet")
	}
	if appErr.Message != "change set not found" {
		t.Errorf("Message = %q, want %q", appErr.Message, "change set not found")
	}
}

// TestWrapErrorString 验证 Error() 输出包含 op、message 和 cause。
func TestWrapErrorString(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	wrapped := Wrap(cause, "Scanner.Next", "read failed")

	s := wrapped.Error()
	for _, want := range []string{"Scanner.Next", "read failed", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

// TestStreamTimeoutRetryable 验证 StreamTimeoutError 通过 errors.Is 判定为超时。
func TestStreamTimeoutRetryable(t *testing.T) {
	err := error(&StreamTimeoutError{Op: "Client.SendMessage", Wait: 2 * time.Minute})

	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = false, want true")
	}
	if !strings.Contains(err.Error(), "2m0s") {
		t.Errorf("Error() = %q, want to contain wait bound", err.Error())
	}
	if !strings.Contains(err.Error(), "retry") {
		t.Errorf("Error() = %q, want retry instruction", err.Error())
	}
}

// TestTransportErrorCarriesBody 验证 TransportError 保留状态码与响应体。
func TestTransportErrorCarriesBody(t *testing.T) {
	err := &TransportError{Op: "Client.SubmitApproval", Status: 502, Body: "bad gateway"}

	var te *TransportError
	if !errors.As(error(err), &te) {
		t.Fatal("errors.As failed to extract *TransportError")
	}
	if te.Status != 502 {
		t.Errorf("Status = %d, want 502", te.Status)
	}
	if !strings.Contains(err.Error(), "bad gateway") {
		t.Errorf("Error() = %q, missing body", err.Error())
	}
	// TransportError 不是超时
	if errors.Is(error(err), ErrTimeout) {
		t.Error("TransportError matched ErrTimeout, want no match")
	}
}

// TestProtocolErrorString 验证 ProtocolError 消息格式。
func TestProtocolErrorString(t *testing.T) {
	err := &ProtocolError{Op: "Client.SendMessage", Message: "response body is not streamable"}
	if !strings.Contains(err.Error(), "protocol error") {
		t.Errorf("Error() = %q, want 'protocol error'", err.Error())
	}
}

// TestDoubleWrap 验证二次包装时 errors.Is 仍能找到最深层哨兵。
func TestDoubleWrap(t *testing.T) {
	inner := Wrap(ErrStreamBusy, "Session.Send", "thread already streaming")
	outer := Wrap(inner, "CLI.Send", "send rejected")

	if !errors.Is(outer, ErrStreamBusy) {
		t.Error("errors.Is(outer, ErrStreamBusy) = false after double wrap")
	}

	var appErr *AppError
	if !errors.As(outer, &appErr) {
		t.Fatal("errors.As failed on outer")
	}
	if appErr.Op != "CLI.Send" {
		t.Errorf("Op = %q, want CLI.Send", appErr.Op)
	}
}
