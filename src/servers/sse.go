package servers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/droneguard/droneguard-go/src/coordinator"
	"github.com/droneguard/droneguard-go/src/instance"
)

// SSEEventType SSE 事件类型
type SSEEventType string

const (
	// SSEEventProbeState 探测状态（IsProbing/宽/高）变化
	SSEEventProbeState SSEEventType = "probe_state"
	// SSEEventLog 探测日志
	SSEEventLog SSEEventType = "log"
)

// SSEMessage SSE 消息结构
type SSEMessage struct {
	Type   SSEEventType `json:"type"`
	Source string       `json:"source"`
	Data   interface{}  `json:"data"`
}

// SSEHub 管理所有 SSE 连接
type SSEHub struct {
	mu      sync.RWMutex
	clients map[chan SSEMessage]struct{}
	closeCh chan struct{}
	closed  bool
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[chan SSEMessage]struct{}),
		closeCh: make(chan struct{}),
	}
}

// AddClient 添加客户端，hub 已关闭时返回 false
func (h *SSEHub) AddClient(ch chan SSEMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[ch] = struct{}{}
	return true
}

// RemoveClient 移除一个 SSE 客户端
func (h *SSEHub) RemoveClient(ch chan SSEMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Broadcast 向所有客户端广播消息，channel 满时丢弃
func (h *SSEHub) Broadcast(msg SSEMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// BroadcastProbeState 广播探测状态
func (h *SSEHub) BroadcastProbeState(source string, state coordinator.State) {
	h.Broadcast(SSEMessage{
		Type:   SSEEventProbeState,
		Source: source,
		Data:   state,
	})
}

// BroadcastLog 广播一行日志
func (h *SSEHub) BroadcastLog(source string, logLine string) {
	h.Broadcast(SSEMessage{
		Type:   SSEEventLog,
		Source: source,
		Data:   logLine,
	})
}

// ClientCount 获取当前连接的客户端数量
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 关闭所有 SSE 连接
func (h *SSEHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.closeCh)
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

// Done 返回关闭信号 channel
func (h *SSEHub) Done() <-chan struct{} {
	return h.closeCh
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, msg SSEMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
	flusher.Flush()
}

func makeSSEHandler(hub *SSEHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "SSE not supported", http.StatusInternalServerError)
			return
		}

		clientCh := make(chan SSEMessage, 100)
		if !hub.AddClient(clientCh) {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}

		fmt.Fprintf(w, "event: connected\ndata: {\"message\":\"SSE connected\",\"clients\":%d}\n\n", hub.ClientCount())
		flusher.Flush()

		// 连接后先推送一次当前状态
		if inst := instance.GetInstance(r.Context()); inst != nil && inst.Coordinator != nil {
			writeSSE(w, flusher, SSEMessage{
				Type:   SSEEventProbeState,
				Source: inst.Coordinator.Source(),
				Data:   inst.Coordinator.State(),
			})
		}

		heartbeatTicker := time.NewTicker(30 * time.Second)
		defer heartbeatTicker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				hub.RemoveClient(clientCh)
				return
			case <-hub.Done():
				return
			case <-heartbeatTicker.C:
				fmt.Fprintf(w, ":heartbeat\n\n")
				flusher.Flush()
			case msg, ok := <-clientCh:
				if !ok {
					return
				}
				writeSSE(w, flusher, msg)
			}
		}
	}
}
