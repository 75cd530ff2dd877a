// watch.go — websocket 实时事件订阅: 旁观非本端发起的 run。
package maestro

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/raj-pulapakura/idea-maestro/pkg/errors"
	"github.com/raj-pulapakura/idea-maestro/pkg/logger"
)

const (
	watchHandshakeTimeout  = 5 * time.Second
	watchReadIdleTimeout   = 90 * time.Second
	watchReconnectBase     = time.Second
	watchReconnectMax      = 30 * time.Second
	watchWriteWaitTimeout  = 10 * time.Second
	defaultWatchPingPeriod = 20 * time.Second
)

// Watcher 订阅某 thread 的实时事件流 (websocket 文本帧, 每帧一个
// StreamEvent JSON)。断线按指数退避重连, 直到 ctx 结束。
//
// watch 通道与 SSE 通道投递相同的事件信封; 去重交给 reducer 的
// seen-event-id 集合, 两路同时收到同一事件是安全的。
type Watcher struct {
	BaseURL      string
	ThreadID     string
	PingInterval time.Duration
}

// NewWatcher 创建 watcher。baseURL 为后端 HTTP 地址, 自动换算 ws scheme。
func NewWatcher(baseURL, threadID string) *Watcher {
	return &Watcher{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		ThreadID:     threadID,
		PingInterval: defaultWatchPingPeriod,
	}
}

// endpoint 计算 websocket 地址: http→ws, https→wss。
func (w *Watcher) endpoint() (string, error) {
	u, err := url.Parse(w.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/watch"
	q := u.Query()
	q.Set("thread_id", w.ThreadID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run 持续订阅并把事件交给 sink, 阻塞直到 ctx 结束。
// 单次连接失败只记日志并退避重连, 不向调用方冒泡。
func (w *Watcher) Run(ctx context.Context, sink Sink) error {
	const op = "Watcher.Run"
	target, err := w.endpoint()
	if err != nil {
		return apperrors.Wrap(err, op, "bad base url")
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		if err := w.runOnce(ctx, target, sink); err != nil {
			logger.Warn("watch connection lost",
				logger.FieldThreadID, w.ThreadID,
				logger.FieldAttempt, attempt,
				logger.FieldError, err)
		} else {
			// 正常关闭也重连 — 订阅期内服务端可能滚动重启。
			attempt = 0
		}
		if !sleepContext(ctx, reconnectDelay(attempt)) {
			return nil
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context, target string, sink Sink) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: watchHandshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: watchHandshakeTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(watchReadIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(watchReadIdleTimeout))
		return nil
	})

	logger.Info("watch connected", logger.FieldThreadID, w.ThreadID)

	// ping loop 随 ctx 或连接关闭退出。
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go w.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return nil
		}
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(watchReadIdleTimeout))
		sink(decodeWatchFrame(raw))
	}
}

func (w *Watcher) pingLoop(ctx context.Context, conn *websocket.Conn) {
	interval := w.PingInterval
	if interval <= 0 {
		interval = defaultWatchPingPeriod
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(watchWriteWaitTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// decodeWatchFrame 解码一帧。信封损坏时同样降级为 raw 包装, 不丢帧。
func decodeWatchFrame(raw []byte) StreamEvent {
	var ev StreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		return StreamEvent{Type: DefaultEventType, Data: map[string]any{"raw": string(raw)}}
	}
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}
	return ev
}

// reconnectDelay 指数退避: 1s, 2s, 4s ... 封顶 30s; 首次立即。
func reconnectDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := watchReconnectBase
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= watchReconnectMax {
			return watchReconnectMax
		}
	}
	if delay > watchReconnectMax {
		return watchReconnectMax
	}
	return delay
}

// sleepContext 等待 delay, ctx 先结束时返回 false。
func sleepContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
