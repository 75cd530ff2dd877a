// Package session 把传输层与 reducer 装配成单值会话。
//
// 所有状态变更在持锁下串行执行: 每个事件到达即 state = Apply(state, ev),
// 整值替换。读取返回当前 State 值 —— 写路径全部 copy-on-write, 读方
// 拿到的值之后不会被原地修改, 无需再拷贝。
//
// 同一线程在流进行中拒绝新的发送/审批 (ErrStreamBusy), 防止两个 run
// 竞争同一线程的 current run; 不同线程互不影响。
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raj-pulapakura/idea-maestro/internal/maestro"
	"github.com/raj-pulapakura/idea-maestro/internal/workspace"
	apperrors "github.com/raj-pulapakura/idea-maestro/pkg/errors"
	"github.com/raj-pulapakura/idea-maestro/pkg/logger"
)

// Transport 是 session 需要的后端操作面。*maestro.Client 实现它。
type Transport interface {
	SendMessage(ctx context.Context, threadID, message string, sink maestro.Sink) error
	SubmitApproval(ctx context.Context, threadID string, decision maestro.Decision, comment, interruptID string, sink maestro.Sink) error
	FetchSnapshot(ctx context.Context, threadID string) (maestro.Snapshot, error)
	CreateThread(ctx context.Context, threadID, title string) (maestro.Thread, error)
	UpdateThread(ctx context.Context, threadID, title, status string) (maestro.Thread, error)
	ListThreads(ctx context.Context, limit, offset int) ([]maestro.Thread, error)
	ListDocs(ctx context.Context, threadID string) ([]maestro.Doc, error)
	GetDoc(ctx context.Context, threadID, docID string) (maestro.Doc, error)
	ListChangeSets(ctx context.Context, threadID string) ([]maestro.ChangeSet, error)
	GetChangeSet(ctx context.Context, threadID, changeSetID string) (maestro.ChangeSet, error)
}

// Session 单值会话状态机。
type Session struct {
	mu    sync.Mutex
	api   Transport
	state workspace.State
}

// New 创建空会话。
func New(api Transport) *Session {
	return &Session{api: api, state: workspace.NewState()}
}

// State 返回当前状态值。
func (s *Session) State() workspace.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Timeline 返回线程合并时间线。
func (s *Session) Timeline(threadID string) []workspace.TimelineEntry {
	return workspace.BuildTimeline(s.State(), threadID)
}

// RunLog 返回线程审计序列 (新到旧)。
func (s *Session) RunLog(threadID string) []workspace.RunLogEntry {
	return workspace.BuildRunLog(s.State(), threadID)
}

// PendingApproval 返回线程第一个待审批变更集; 没有是正常结果。
func (s *Session) PendingApproval(threadID string) (workspace.PendingApproval, bool) {
	return workspace.FindPendingApproval(s.State(), threadID)
}

// Sink 返回串行折叠事件的回调, 供外部事件源 (如 watch 通道) 使用。
func (s *Session) Sink() maestro.Sink {
	return func(ev maestro.StreamEvent) {
		s.mu.Lock()
		s.state = workspace.Apply(s.state, ev)
		s.mu.Unlock()
	}
}

// SendMessage 发送用户消息并驱动整条响应流折叠进状态。
//
// 流开始前乐观插入用户消息并清除线程错误; 流失败时错误记入线程,
// 此前已折叠的实体保留。同线程流进行中返回 ErrStreamBusy。
func (s *Session) SendMessage(ctx context.Context, threadID, text string) error {
	const op = "Session.SendMessage"
	if threadID == "" || text == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "thread id and text are required")
	}

	if err := s.beginStream(op, threadID); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = workspace.PushUserMessage(s.state, threadID, workspace.Message{
		ID:        uuid.NewString(),
		Role:      workspace.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})
	s.mu.Unlock()

	return s.finishStream(op, threadID, s.api.SendMessage(ctx, threadID, text, s.Sink()))
}

// SubmitApproval 提交审批决定并折叠响应流。
func (s *Session) SubmitApproval(ctx context.Context, threadID string, decision maestro.Decision, comment, interruptID string) error {
	const op = "Session.SubmitApproval"
	if !decision.Valid() {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, op, "decision %q outside {approve, reject, request_changes}", decision)
	}

	if err := s.beginStream(op, threadID); err != nil {
		return err
	}
	return s.finishStream(op, threadID, s.api.SubmitApproval(ctx, threadID, decision, comment, interruptID, s.Sink()))
}

// beginStream 占用线程流槽位; 已占用时返回 ErrStreamBusy。
func (s *Session) beginStream(op, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Streaming(threadID) {
		return apperrors.Wrapf(apperrors.ErrStreamBusy, op, "thread %s already streaming", threadID)
	}
	s.state = workspace.BeginStream(s.state, threadID)
	return nil
}

// finishStream 按流结果收尾线程状态并透传错误。
func (s *Session) finishStream(op, threadID string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = workspace.FailStream(s.state, threadID, err.Error())
		logger.Error("stream failed",
			logger.FieldThreadID, threadID,
			logger.FieldError, err)
		return err
	}
	s.state = workspace.FinishStream(s.state, threadID)
	return nil
}

// ========================================
// 非流式操作
// ========================================

// LoadThread 拉取并水合线程快照。
func (s *Session) LoadThread(ctx context.Context, threadID string) error {
	snap, err := s.api.FetchSnapshot(ctx, threadID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = workspace.ApplySnapshot(s.state, threadID, snap)
	s.mu.Unlock()
	return nil
}

// CreateThread 新建线程并水合返回的实体。
func (s *Session) CreateThread(ctx context.Context, threadID, title string) (workspace.Thread, error) {
	created, err := s.api.CreateThread(ctx, threadID, title)
	if err != nil {
		return workspace.Thread{}, err
	}
	s.mu.Lock()
	s.state = workspace.ApplyThreads(s.state, []maestro.Thread{created})
	thread := s.state.Threads[created.ThreadID]
	s.mu.Unlock()
	return thread, nil
}

// UpdateThread 改线程标题/状态并水合返回的实体。
func (s *Session) UpdateThread(ctx context.Context, threadID, title, status string) (workspace.Thread, error) {
	updated, err := s.api.UpdateThread(ctx, threadID, title, status)
	if err != nil {
		return workspace.Thread{}, err
	}
	s.mu.Lock()
	s.state = workspace.ApplyThreads(s.state, []maestro.Thread{updated})
	thread := s.state.Threads[updated.ThreadID]
	s.mu.Unlock()
	return thread, nil
}

// RefreshThreads 拉取线程列表并水合。
func (s *Session) RefreshThreads(ctx context.Context, limit, offset int) error {
	threads, err := s.api.ListThreads(ctx, limit, offset)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = workspace.ApplyThreads(s.state, threads)
	s.mu.Unlock()
	return nil
}

// RefreshDocs 拉取线程全部文档并水合。
func (s *Session) RefreshDocs(ctx context.Context, threadID string) error {
	docs, err := s.api.ListDocs(ctx, threadID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = workspace.ApplyDocs(s.state, docs)
	s.mu.Unlock()
	return nil
}

// LoadDoc 拉取单个文档 (整体替换)。
func (s *Session) LoadDoc(ctx context.Context, threadID, docID string) (workspace.Doc, error) {
	doc, err := s.api.GetDoc(ctx, threadID, docID)
	if err != nil {
		return workspace.Doc{}, err
	}
	s.mu.Lock()
	s.state = workspace.UpsertDoc(s.state, doc)
	out := s.state.Docs[workspace.DocKey(threadID, docID)]
	s.mu.Unlock()
	return out, nil
}

// RefreshChangeSets 拉取线程变更集并经归并入口水合。
func (s *Session) RefreshChangeSets(ctx context.Context, threadID string) error {
	sets, err := s.api.ListChangeSets(ctx, threadID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = workspace.ApplyChangeSets(s.state, threadID, sets)
	s.mu.Unlock()
	return nil
}
