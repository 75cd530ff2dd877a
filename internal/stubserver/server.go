// server.go — 协作方后端替身的 HTTP 面 (gin)。
package stubserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raj-pulapakura/idea-maestro/internal/config"
	"github.com/raj-pulapakura/idea-maestro/internal/maestro"
	apperrors "github.com/raj-pulapakura/idea-maestro/pkg/errors"
	"github.com/raj-pulapakura/idea-maestro/pkg/logger"
	"github.com/raj-pulapakura/idea-maestro/pkg/util"
)

// Server 路由 + 存储 + watch 广播枢纽。
type Server struct {
	router *gin.Engine
	store  *Store
	hub    *Hub
	cfg    *config.Config
}

// NewServer 创建替身服务。
func NewServer(cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		router: r,
		store:  NewStore(),
		hub:    NewHub(),
		cfg:    cfg,
	}
	s.registerRoutes()
	return s
}

// Engine 返回 gin 引擎 (测试与 http.Server 装配用)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Store 返回内存存储 (测试播种用)。
func (s *Server) Store() *Store { return s.store }

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.POST("/threads", s.createThread)
	api.GET("/threads", s.listThreads)
	api.PATCH("/threads/:thread_id", s.updateThread)
	api.GET("/threads/:thread_id/docs", s.listDocs)
	api.GET("/threads/:thread_id/docs/:doc_id", s.getDoc)
	api.GET("/threads/:thread_id/changesets", s.listChangeSets)
	api.GET("/threads/:thread_id/changesets/:changeset_id", s.getChangeSet)

	api.GET("/chat/:thread_id", s.snapshot)
	api.POST("/chat/:thread_id", s.chat)
	api.POST("/chat/:thread_id/approval", s.approval)

	api.GET("/watch", s.watch)
}

// ========================================
// 统一响应
// ========================================

func ok(c *gin.Context, body gin.H) {
	body["ok"] = true
	c.JSON(http.StatusOK, body)
}

func notFound(c *gin.Context, err error) {
	c.JSON(http.StatusNotFound, gin.H{"ok": false, "detail": err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "detail": message})
}

// ========================================
// 线程与实体读取
// ========================================

func (s *Server) createThread(c *gin.Context) {
	var body struct {
		ThreadID string `json:"thread_id"`
		Title    string `json:"title"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && err != io.EOF {
		badRequest(c, "invalid request body")
		return
	}
	thread := s.store.CreateThread(body.ThreadID, body.Title)
	logger.Info("thread created", logger.FieldThreadID, thread.ThreadID)
	ok(c, gin.H{"thread": thread})
}

func (s *Server) updateThread(c *gin.Context) {
	var body struct {
		Title  string `json:"title"`
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && err != io.EOF {
		badRequest(c, "invalid request body")
		return
	}
	thread, err := s.store.UpdateThread(c.Param("thread_id"), body.Title, body.Status)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			badRequest(c, err.Error())
			return
		}
		notFound(c, err)
		return
	}
	ok(c, gin.H{"thread": thread})
}

func (s *Server) listThreads(c *gin.Context) {
	limit := util.ClampInt(queryInt(c, "limit", s.cfg.StubThreadListLimit), 1, s.cfg.StubThreadListLimit)
	offset := queryInt(c, "offset", 0)
	ok(c, gin.H{"threads": s.store.ListThreads(limit, offset)})
}

func queryInt(c *gin.Context, key string, def int) int {
	var v int
	if _, err := fmt.Sscanf(c.DefaultQuery(key, fmt.Sprint(def)), "%d", &v); err != nil || v < 0 {
		return def
	}
	return v
}

func (s *Server) listDocs(c *gin.Context) {
	docs, err := s.store.ListDocs(c.Param("thread_id"))
	if err != nil {
		notFound(c, err)
		return
	}
	ok(c, gin.H{"docs": docs})
}

func (s *Server) getDoc(c *gin.Context) {
	doc, err := s.store.GetDoc(c.Param("thread_id"), c.Param("doc_id"))
	if err != nil {
		notFound(c, err)
		return
	}
	ok(c, gin.H{"doc": doc})
}

func (s *Server) listChangeSets(c *gin.Context) {
	sets, err := s.store.ListChangeSets(c.Param("thread_id"))
	if err != nil {
		notFound(c, err)
		return
	}
	ok(c, gin.H{"changesets": sets})
}

func (s *Server) getChangeSet(c *gin.Context) {
	cs, err := s.store.GetChangeSet(c.Param("thread_id"), c.Param("changeset_id"))
	if err != nil {
		notFound(c, err)
		return
	}
	ok(c, gin.H{"changeset": cs})
}

func (s *Server) snapshot(c *gin.Context) {
	snap, err := s.store.Snapshot(c.Param("thread_id"))
	if err != nil {
		notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"thread":         snap.Thread,
		"messages":       snap.Messages,
		"docs":           snap.Docs,
		"runs":           snap.Runs,
		"agent_statuses": snap.AgentStatuses,
		"changesets":     snap.ChangeSets,
	})
}

// ========================================
// 流式端点
// ========================================

// sseWriter 串行化 SSE 块写出 (脚本 goroutine 与 keepalive 竞争同一连接)。
type sseWriter struct {
	mu      sync.Mutex
	w       gin.ResponseWriter
	flusher http.Flusher
}

func (sw *sseWriter) emit(eventType string, payload map[string]any) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", eventType, raw)
	sw.flusher.Flush()
}

func (s *Server) chat(c *gin.Context) {
	var body struct {
		Message         string `json:"message"`
		ClientMessageID string `json:"client_message_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Message == "" {
		badRequest(c, "message is required")
		return
	}

	threadID := c.Param("thread_id")
	s.store.EnsureThread(threadID)

	messageID := body.ClientMessageID
	if messageID == "" {
		messageID = "user-" + nowStamp()
	}
	s.store.AppendMessage(threadID, maestro.MessageRow{
		MessageID: messageID,
		Role:      "user",
		Content:   []byte(fmt.Sprintf(`{"text":%q}`, body.Message)),
		CreatedAt: nowStamp(),
	}, util.Truncate(body.Message, s.cfg.StubPreviewMaxLength))

	s.streamRun(c, threadID, func(sc *script) {
		sc.PlayChat(c.Request.Context(), body.Message)
	})
}

func (s *Server) approval(c *gin.Context) {
	var body struct {
		Decision    string `json:"decision"`
		Comment     string `json:"comment"`
		InterruptID string `json:"interrupt_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	decision := maestro.Decision(body.Decision)
	if !decision.Valid() {
		badRequest(c, "decision must be approve, reject or request_changes")
		return
	}

	threadID := c.Param("thread_id")
	s.store.EnsureThread(threadID)
	s.streamRun(c, threadID, func(sc *script) {
		sc.PlayApproval(c.Request.Context(), decision, body.Comment)
	})
}

// streamRun 建 SSE 连接, 后台跑脚本并夹发 keepalive, 脚本结束即收流。
func (s *Server) streamRun(c *gin.Context, threadID string, play func(*script)) {
	flusher, okCast := c.Writer.(http.Flusher)
	if !okCast {
		badRequest(c, "streaming unsupported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &sseWriter{w: c.Writer, flusher: flusher}
	emit := func(eventType string, payload map[string]any) {
		sw.emit(eventType, payload)
		s.hub.Broadcast(threadID, maestro.StreamEvent{Type: eventType, Data: payload})
	}

	sc := newScript(s.store, threadID, s.cfg.StubDeltaInterval(), s.cfg.StubPreviewMaxLength, emit)

	done := make(chan struct{})
	go func() {
		defer close(done)
		play(sc)
	}()

	keepalive := time.NewTicker(s.cfg.StubKeepalive())
	defer keepalive.Stop()
	for {
		select {
		case <-done:
			return
		case <-keepalive.C:
			sc.event(maestro.EventKeepalive, map[string]any{})
		case <-c.Request.Context().Done():
			<-done
			return
		}
	}
}
