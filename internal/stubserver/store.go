// Package stubserver 是协作方后端的内存替身。
//
// 持久化显式排除在外: 所有实体活在进程内存里, 进程退出即消失。
// 对外暴露与生产后端一致的 wire 形状 (maestro 包类型), 客户端无感。
package stubserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raj-pulapakura/idea-maestro/internal/maestro"
	apperrors "github.com/raj-pulapakura/idea-maestro/pkg/errors"
	"github.com/raj-pulapakura/idea-maestro/pkg/util"
)

// seededDocs 新线程自动带上的空白工作文档。
var seededDocs = []struct {
	id, title, description string
}{
	{"product_brief", "Product Brief", "Describe the core problem, target user, value proposition, and positioning."},
	{"evidence_assumptions_log", "Evidence & Assumptions Log", "Track key assumptions with confidence level and validation status."},
	{"mvp_scope_non_goals", "MVP Scope & Non-Goals", "Define what is in scope for MVP and explicitly list what is out of scope."},
	{"technical_plan", "Technical Plan", "Describe architecture, stack decisions, delivery milestones, and constraints."},
	{"gtm_plan", "GTM Plan", "Describe launch strategy, distribution channels, and growth experiments."},
	{"business_model_pricing", "Business Model & Pricing", "Describe monetization model, packaging, pricing, and core unit economics."},
	{"risk_decision_log", "Risk & Decision Log", "Track major risks, tradeoffs, and decision rationale over time."},
	{"next_actions_board", "Next Actions Board", "Maintain a prioritized list of concrete tasks for the next two weeks."},
}

// Store 全部实体的内存容器。
type Store struct {
	mu         sync.Mutex
	threads    map[string]maestro.Thread
	messages   map[string][]maestro.MessageRow
	docs       map[string]map[string]maestro.Doc
	runs       map[string][]maestro.Run           // 按线程, 追加序
	statuses   map[string][]maestro.AgentStatus   // 按线程, 只留每 (run, agent) 最新
	changesets map[string]map[string]maestro.ChangeSet
}

// NewStore 创建空存储。
func NewStore() *Store {
	return &Store{
		threads:    map[string]maestro.Thread{},
		messages:   map[string][]maestro.MessageRow{},
		docs:       map[string]map[string]maestro.Doc{},
		runs:       map[string][]maestro.Run{},
		statuses:   map[string][]maestro.AgentStatus{},
		changesets: map[string]map[string]maestro.ChangeSet{},
	}
}

func nowStamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// CreateThread 建线程并播种空白文档。id/title 缺省时生成。
func (s *Store) CreateThread(threadID, title string) maestro.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureThreadLocked(threadID, title)
}

// EnsureThread 线程不存在时按需创建 (聊天端点允许直接对新 id 发言)。
func (s *Store) EnsureThread(threadID string) maestro.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureThreadLocked(threadID, "")
}

func (s *Store) ensureThreadLocked(threadID, title string) maestro.Thread {
	if threadID != "" {
		if existing, ok := s.threads[threadID]; ok {
			return existing
		}
	}
	if threadID == "" {
		threadID = uuid.NewString()
	}
	title = util.FirstNonEmpty(title, "Untitled Thread")
	now := nowStamp()
	thread := maestro.Thread{
		ThreadID:  threadID,
		Title:     title,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.threads[threadID] = thread

	docs := make(map[string]maestro.Doc, len(seededDocs))
	for _, seed := range seededDocs {
		created := now
		docs[seed.id] = maestro.Doc{
			ThreadID:    threadID,
			DocID:       seed.id,
			Title:       seed.title,
			Description: seed.description,
			Version:     1,
			CreatedAt:   &created,
		}
	}
	s.docs[threadID] = docs
	return thread
}

// ListThreads 按更新时间新到旧分页。
func (s *Store) ListThreads(limit, offset int) []maestro.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]maestro.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ThreadID < out[j].ThreadID
	})

	if offset >= len(out) {
		return []maestro.Thread{}
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetThread 读取线程。
func (s *Store) GetThread(threadID string) (maestro.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return maestro.Thread{}, apperrors.Wrapf(apperrors.ErrNotFound, "Store.GetThread", "thread %s", threadID)
	}
	return t, nil
}

// UpdateThread 改线程标题或状态; 状态仅接受 active/archived。
func (s *Store) UpdateThread(threadID, title, status string) (maestro.Thread, error) {
	if status != "" && status != "active" && status != "archived" {
		return maestro.Thread{}, apperrors.Wrapf(apperrors.ErrInvalidInput, "Store.UpdateThread", "status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return maestro.Thread{}, apperrors.Wrapf(apperrors.ErrNotFound, "Store.UpdateThread", "thread %s", threadID)
	}
	if title != "" {
		t.Title = title
	}
	if status != "" {
		t.Status = status
	}
	t.UpdatedAt = nowStamp()
	s.threads[threadID] = t
	return t, nil
}

// Snapshot 组装线程快照 (所有集合非 nil)。
func (s *Store) Snapshot(threadID string) (maestro.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[threadID]
	if !ok {
		return maestro.Snapshot{}, apperrors.Wrapf(apperrors.ErrNotFound, "Store.Snapshot", "thread %s", threadID)
	}

	snap := maestro.Snapshot{
		Thread:        &thread,
		Messages:      append([]maestro.MessageRow{}, s.messages[threadID]...),
		Docs:          s.sortedDocsLocked(threadID),
		Runs:          append([]maestro.Run{}, s.runs[threadID]...),
		AgentStatuses: append([]maestro.AgentStatus{}, s.statuses[threadID]...),
		ChangeSets:    s.sortedChangeSetsLocked(threadID),
	}
	return snap, nil
}

func (s *Store) sortedDocsLocked(threadID string) []maestro.Doc {
	docs := s.docs[threadID]
	out := make([]maestro.Doc, 0, len(docs))
	for _, d := range docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

func (s *Store) sortedChangeSetsLocked(threadID string) []maestro.ChangeSet {
	sets := s.changesets[threadID]
	out := make([]maestro.ChangeSet, 0, len(sets))
	for _, cs := range sets {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strptr(out[i].CreatedAt), strptr(out[j].CreatedAt)
		if a != b {
			return a < b
		}
		return out[i].ChangeSetID < out[j].ChangeSetID
	})
	return out
}

func strptr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ListDocs 读取线程全部文档。
func (s *Store) ListDocs(threadID string) ([]maestro.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "Store.ListDocs", "thread %s", threadID)
	}
	return s.sortedDocsLocked(threadID), nil
}

// GetDoc 读取单个文档。
func (s *Store) GetDoc(threadID, docID string) (maestro.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[threadID][docID]
	if !ok {
		return maestro.Doc{}, apperrors.Wrapf(apperrors.ErrNotFound, "Store.GetDoc", "doc %s/%s", threadID, docID)
	}
	return doc, nil
}

// ApplyDocEdit 整体替换文档内容并递增版本号。
func (s *Store) ApplyDocEdit(threadID, docID, content, byAgent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[threadID][docID]
	if !ok {
		return
	}
	now := nowStamp()
	doc.Content = content
	doc.Version++
	doc.UpdatedBy = &byAgent
	doc.UpdatedAt = &now
	s.docs[threadID][docID] = doc
}

// ListChangeSets 读取线程变更集 (创建时间升序)。
func (s *Store) ListChangeSets(threadID string) ([]maestro.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "Store.ListChangeSets", "thread %s", threadID)
	}
	return s.sortedChangeSetsLocked(threadID), nil
}

// GetChangeSet 读取变更集明细。
func (s *Store) GetChangeSet(threadID, changeSetID string) (maestro.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.changesets[threadID][changeSetID]
	if !ok {
		return maestro.ChangeSet{}, apperrors.Wrapf(apperrors.ErrNotFound, "Store.GetChangeSet", "changeset %s/%s", threadID, changeSetID)
	}
	return cs, nil
}

// PutChangeSet 写入变更集。
func (s *Store) PutChangeSet(cs maestro.ChangeSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changesets[cs.ThreadID] == nil {
		s.changesets[cs.ThreadID] = map[string]maestro.ChangeSet{}
	}
	s.changesets[cs.ThreadID][cs.ChangeSetID] = cs
}

// DecideChangeSet 落决定: 状态、时间与评审记录。pending 之外的再次
// 决定被拒绝 (状态单调)。
func (s *Store) DecideChangeSet(threadID, changeSetID, status, comment string) (maestro.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.changesets[threadID][changeSetID]
	if !ok {
		return maestro.ChangeSet{}, apperrors.Wrapf(apperrors.ErrNotFound, "Store.DecideChangeSet", "changeset %s/%s", threadID, changeSetID)
	}
	if cs.Status != "pending" {
		return maestro.ChangeSet{}, apperrors.Wrapf(apperrors.ErrInvalidInput, "Store.DecideChangeSet", "changeset %s already %s", changeSetID, cs.Status)
	}

	now := nowStamp()
	cs.Status = status
	cs.DecidedAt = &now
	if comment != "" {
		cs.DecisionNote = &comment
	}
	cs.Reviews = append(cs.Reviews, maestro.Review{
		Decision:   status,
		ReviewedBy: "human",
		ReviewedAt: &now,
	})
	if comment != "" {
		cs.Reviews[len(cs.Reviews)-1].Comment = &comment
	}
	s.changesets[threadID][changeSetID] = cs
	return cs, nil
}

// MarkApplied 审批通过后的落地状态。
func (s *Store) MarkApplied(threadID, changeSetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.changesets[threadID][changeSetID]
	if !ok {
		return
	}
	cs.Status = "applied"
	s.changesets[threadID][changeSetID] = cs
}

// AppendMessage 落一条历史消息并刷新线程预览。
func (s *Store) AppendMessage(threadID string, row maestro.MessageRow, preview string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[threadID] = append(s.messages[threadID], row)

	if thread, ok := s.threads[threadID]; ok {
		thread.UpdatedAt = nowStamp()
		if preview != "" {
			thread.LastMessagePreview = &preview
		}
		s.threads[threadID] = thread
	}
}

// PutRun 按 run id upsert。
func (s *Store) PutRun(run maestro.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.runs[run.ThreadID]
	for i, existing := range runs {
		if existing.RunID == run.RunID {
			runs[i] = run
			return
		}
	}
	s.runs[run.ThreadID] = append(runs, run)
}

// PutAgentStatus 覆盖 (run, agent) 的最新状态。
func (s *Store) PutAgentStatus(status maestro.AgentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.statuses[status.ThreadID]
	for i, existing := range list {
		if existing.RunID == status.RunID && existing.Agent == status.Agent {
			list[i] = status
			return
		}
	}
	s.statuses[status.ThreadID] = append(list, status)
}

// PendingChangeSet 返回线程最早的 pending 变更集。
func (s *Store) PendingChangeSet(threadID string) (maestro.ChangeSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.sortedChangeSetsLocked(threadID) {
		if cs.Status == "pending" {
			return cs, true
		}
	}
	return maestro.ChangeSet{}, false
}
