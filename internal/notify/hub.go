package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/blues/cfledger/internal/logger"
	"github.com/blues/cfledger/internal/registry"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	clientSendSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub websocket 事件广播，跟不上的订阅者会被断开
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub 创建广播中心
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Name 接收端名称
func (h *Hub) Name() string {
	return "websocket"
}

// Publish 把事件广播给所有订阅者
func (h *Hub) Publish(_ context.Context, event registry.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			go h.remove(c)
		}
	}
	return nil
}

// ServeWS 升级连接并注册订阅者，客户端发来的消息被忽略
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Debug("Websocket subscriber connected from %s", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)
}

// Clients 当前订阅者数量
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开所有订阅者
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
