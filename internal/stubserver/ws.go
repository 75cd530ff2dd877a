// ws.go — watch 通道: 按线程订阅的 websocket 广播。
package stubserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raj-pulapakura/idea-maestro/internal/maestro"
	"github.com/raj-pulapakura/idea-maestro/pkg/logger"
	"github.com/raj-pulapakura/idea-maestro/pkg/util"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 90 * time.Second
	wsSendBuffer = 64
)

// Hub 按线程分组的订阅者集合。
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan maestro.StreamEvent // threadID → clientID → ch
}

// NewHub 创建空枢纽。
func NewHub() *Hub {
	return &Hub{subs: map[string]map[string]chan maestro.StreamEvent{}}
}

// Subscribe 订阅线程事件, 返回 (clientID, 事件通道)。
func (h *Hub) Subscribe(threadID string) (string, chan maestro.StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[threadID] == nil {
		h.subs[threadID] = map[string]chan maestro.StreamEvent{}
	}
	clientID := uuid.NewString()
	ch := make(chan maestro.StreamEvent, wsSendBuffer)
	h.subs[threadID][clientID] = ch
	return clientID, ch
}

// Unsubscribe 移除订阅。不关通道 — 消费方经 ctx 退出, 通道随 GC 回收。
func (h *Hub) Unsubscribe(threadID, clientID string) {
	h.mu.Lock()
	delete(h.subs[threadID], clientID)
	h.mu.Unlock()
}

// Broadcast 向线程全部订阅者投递; 慢订阅者丢事件而不阻塞流。
func (h *Hub) Broadcast(threadID string, ev maestro.StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[threadID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 替身后端只跑本地开发, 不校验来源。
	CheckOrigin: func(*http.Request) bool { return true },
}

// watch GET /api/watch?thread_id=... 的 websocket 升级与推送循环。
func (s *Server) watch(c *gin.Context) {
	threadID := c.Query("thread_id")
	if threadID == "" {
		badRequest(c, "thread_id is required")
		return
	}
	s.store.EnsureThread(threadID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("watch upgrade failed", logger.FieldThreadID, threadID, logger.FieldError, err)
		return
	}
	defer conn.Close()

	clientID, ch := s.hub.Subscribe(threadID)
	defer s.hub.Unsubscribe(threadID, clientID)
	logger.Info("watch client connected",
		logger.FieldThreadID, threadID,
		logger.FieldClientID, clientID)

	// 读循环只为响应 ping/pong 与感知断开。
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteWait))
	})
	readerGone := make(chan struct{})
	util.SafeGo(func() {
		defer close(readerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	for {
		select {
		case ev := <-ch:
			frame, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-readerGone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
