// client.go — maestro 后端客户端: 流式聊天/审批 + 快照/实体读取。
package maestro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/raj-pulapakura/idea-maestro/pkg/errors"
	"github.com/raj-pulapakura/idea-maestro/pkg/logger"
)

// maxErrorBodyBytes 非 2xx 响应体读取上限, 防御超大错误页。
const maxErrorBodyBytes = 1 << 20

// Client 维护到 maestro 后端的 HTTP 访问。
//
// 除单次在途读取外不持有跨调用状态; 一个 Client 可被多个
// thread 的操作并发使用 (同 thread 的互斥由调用方保证)。
type Client struct {
	BaseURL     string
	ReadTimeout time.Duration
	HTTPClient  *http.Client
}

// NewClient 创建客户端。readTimeout 为单次流读取等待上限。
func NewClient(baseURL string, readTimeout time.Duration) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		ReadTimeout: readTimeout,
		// 流式响应不能设整体 Timeout, 读超时由 drainStream 自行约束。
		HTTPClient: &http.Client{},
	}
}

// ========================================
// 流式操作
// ========================================

// SendMessage 发送用户消息并把响应流逐事件交给 sink。
// 返回 nil 表示流正常走到 EOF; 错误见 pkg/errors 的流式错误面。
func (c *Client) SendMessage(ctx context.Context, threadID, message string, sink Sink) error {
	const op = "Client.SendMessage"
	body := map[string]any{
		"message":           message,
		"client_message_id": uuid.NewString(),
	}
	resp, err := c.postStream(ctx, op, "/api/chat/"+url.PathEscape(threadID), body)
	if err != nil {
		return err
	}
	return c.drainStream(ctx, op, resp, sink)
}

// SubmitApproval 提交审批决定并消费恢复执行的事件流。
//
// decision 必须在枚举集合内 — 越界取值是调用方契约违例, 直接拒绝。
func (c *Client) SubmitApproval(ctx context.Context, threadID string, decision Decision, comment, interruptID string, sink Sink) error {
	const op = "Client.SubmitApproval"
	if !decision.Valid() {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, op, "decision %q outside {approve, reject, request_changes}", decision)
	}
	body := map[string]any{"decision": string(decision)}
	if comment != "" {
		body["comment"] = comment
	}
	if interruptID != "" {
		body["interrupt_id"] = interruptID
	}
	resp, err := c.postStream(ctx, op, "/api/chat/"+url.PathEscape(threadID)+"/approval", body)
	if err != nil {
		return err
	}
	return c.drainStream(ctx, op, resp, sink)
}

func (c *Client) postStream(ctx context.Context, op, path string, body map[string]any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "encode request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "request failed")
	}
	return resp, nil
}

type readResult struct {
	chunk []byte
	err   error
}

// drainStream 驱动解析器消费响应流, 对每次读取施加 ReadTimeout 上限。
//
// 超时即整体放弃: 关闭响应体让阻塞的 Read 解除, 返回可重试的
// StreamTimeoutError, 不尝试续接同一逻辑读。定时器在成功与失败
// 路径上都会被停止, 不泄漏回调。
func (c *Client) drainStream(ctx context.Context, op string, resp *http.Response, sink Sink) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &apperrors.TransportError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if resp.StatusCode == http.StatusNoContent || resp.Body == http.NoBody {
		return &apperrors.ProtocolError{Op: op, Message: "response carries no streamable body"}
	}

	done := make(chan struct{})
	defer close(done)

	readCh := make(chan readResult)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			var chunk []byte
			if n > 0 {
				chunk = append([]byte(nil), buf[:n]...)
			}
			select {
			case readCh <- readResult{chunk: chunk, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	parser := NewChunkParser()
	timer := time.NewTimer(c.ReadTimeout)
	defer timer.Stop()

	for {
		select {
		case res := <-readCh:
			if len(res.chunk) > 0 {
				for _, ev := range parser.Feed(string(res.chunk)) {
					sink(ev)
				}
			}
			if res.err != nil {
				if res.err == io.EOF {
					for _, ev := range parser.Flush() {
						sink(ev)
					}
					return nil
				}
				return apperrors.Wrap(res.err, op, "stream read")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.ReadTimeout)

		case <-timer.C:
			// 解除阻塞中的 Read, 读 goroutine 随 done 退出。
			_ = resp.Body.Close()
			logger.Warn("stream read timed out", logger.FieldComponent, "maestro", "op", op)
			return &apperrors.StreamTimeoutError{Op: op, Wait: c.ReadTimeout}

		case <-ctx.Done():
			_ = resp.Body.Close()
			return apperrors.Wrap(ctx.Err(), op, "stream cancelled")
		}
	}
}

// ========================================
// 非流式读取
// ========================================

// FetchSnapshot 拉取线程快照; 缺失集合统一补为空切片。
func (c *Client) FetchSnapshot(ctx context.Context, threadID string) (Snapshot, error) {
	const op = "Client.FetchSnapshot"
	var out struct {
		OK bool `json:"ok"`
		Snapshot
	}
	if err := c.getJSON(ctx, op, "/api/chat/"+url.PathEscape(threadID), &out); err != nil {
		return Snapshot{}, err
	}
	snap := out.Snapshot
	if snap.Messages == nil {
		snap.Messages = []MessageRow{}
	}
	if snap.Docs == nil {
		snap.Docs = []Doc{}
	}
	if snap.Runs == nil {
		snap.Runs = []Run{}
	}
	if snap.AgentStatuses == nil {
		snap.AgentStatuses = []AgentStatus{}
	}
	if snap.ChangeSets == nil {
		snap.ChangeSets = []ChangeSet{}
	}
	return snap, nil
}

// CreateThread 创建线程, threadID/title 可为空由后端生成。
func (c *Client) CreateThread(ctx context.Context, threadID, title string) (Thread, error) {
	const op = "Client.CreateThread"
	body := map[string]any{}
	if threadID != "" {
		body["thread_id"] = threadID
	}
	if title != "" {
		body["title"] = title
	}
	var out struct {
		OK     bool   `json:"ok"`
		Thread Thread `json:"thread"`
	}
	if err := c.postJSON(ctx, op, "/api/threads", body, &out); err != nil {
		return Thread{}, err
	}
	return out.Thread, nil
}

// UpdateThread 改线程标题或状态, 空字段保持不变。
func (c *Client) UpdateThread(ctx context.Context, threadID, title, status string) (Thread, error) {
	const op = "Client.UpdateThread"
	body := map[string]any{}
	if title != "" {
		body["title"] = title
	}
	if status != "" {
		body["status"] = status
	}
	var out struct {
		OK     bool   `json:"ok"`
		Thread Thread `json:"thread"`
	}
	path := "/api/threads/" + url.PathEscape(threadID)
	if err := c.requestJSON(ctx, op, http.MethodPatch, path, body, &out); err != nil {
		return Thread{}, err
	}
	return out.Thread, nil
}

// ListThreads 按时间倒序列出线程。
func (c *Client) ListThreads(ctx context.Context, limit, offset int) ([]Thread, error) {
	const op = "Client.ListThreads"
	path := fmt.Sprintf("/api/threads?limit=%d&offset=%d", limit, offset)
	var out struct {
		OK      bool     `json:"ok"`
		Threads []Thread `json:"threads"`
	}
	if err := c.getJSON(ctx, op, path, &out); err != nil {
		return nil, err
	}
	if out.Threads == nil {
		out.Threads = []Thread{}
	}
	return out.Threads, nil
}

// ListDocs 列出线程文档。
func (c *Client) ListDocs(ctx context.Context, threadID string) ([]Doc, error) {
	const op = "Client.ListDocs"
	var out struct {
		OK   bool  `json:"ok"`
		Docs []Doc `json:"docs"`
	}
	if err := c.getJSON(ctx, op, "/api/threads/"+url.PathEscape(threadID)+"/docs", &out); err != nil {
		return nil, err
	}
	if out.Docs == nil {
		out.Docs = []Doc{}
	}
	return out.Docs, nil
}

// GetDoc 读取单个文档。
func (c *Client) GetDoc(ctx context.Context, threadID, docID string) (Doc, error) {
	const op = "Client.GetDoc"
	var out struct {
		OK  bool `json:"ok"`
		Doc Doc  `json:"doc"`
	}
	path := "/api/threads/" + url.PathEscape(threadID) + "/docs/" + url.PathEscape(docID)
	if err := c.getJSON(ctx, op, path, &out); err != nil {
		return Doc{}, err
	}
	return out.Doc, nil
}

// ListChangeSets 列出线程变更集 (概要, 不含 doc_changes/reviews)。
func (c *Client) ListChangeSets(ctx context.Context, threadID string) ([]ChangeSet, error) {
	const op = "Client.ListChangeSets"
	var out struct {
		OK         bool        `json:"ok"`
		ChangeSets []ChangeSet `json:"changesets"`
	}
	if err := c.getJSON(ctx, op, "/api/threads/"+url.PathEscape(threadID)+"/changesets", &out); err != nil {
		return nil, err
	}
	if out.ChangeSets == nil {
		out.ChangeSets = []ChangeSet{}
	}
	return out.ChangeSets, nil
}

// GetChangeSet 读取变更集明细 (含 doc_changes 与 reviews)。
func (c *Client) GetChangeSet(ctx context.Context, threadID, changeSetID string) (ChangeSet, error) {
	const op = "Client.GetChangeSet"
	var out struct {
		OK        bool      `json:"ok"`
		ChangeSet ChangeSet `json:"changeset"`
	}
	path := "/api/threads/" + url.PathEscape(threadID) + "/changesets/" + url.PathEscape(changeSetID)
	if err := c.getJSON(ctx, op, path, &out); err != nil {
		return ChangeSet{}, err
	}
	return out.ChangeSet, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return apperrors.Wrap(err, op, "build request")
	}
	return c.doJSON(op, req, out)
}

func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	return c.requestJSON(ctx, op, http.MethodPost, path, body, out)
}

func (c *Client) requestJSON(ctx context.Context, op, method, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(err, op, "encode request body")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(op, req, out)
}

func (c *Client) doJSON(op string, req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return apperrors.Wrap(err, op, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if resp.StatusCode == http.StatusNotFound {
			return apperrors.Wrap(apperrors.ErrNotFound, op, strings.TrimSpace(string(raw)))
		}
		return &apperrors.TransportError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, op, "decode response")
	}
	return nil
}
