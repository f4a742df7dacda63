package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"promotoken/internal/pkg/logger"
	"promotoken/internal/service/promotion/domain"
	"promotoken/internal/service/promotion/port"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
	feedSendBuffer = 64
)

// FeedHub 维护管理端的 WebSocket 连接，把领域事件实时广播给它们。
// 它同时实现了 port.EventPublisher，可以和 kafka 发布者并列挂在 MultiPublisher 上。
type FeedHub struct {
	clients    map[string]*feedClient
	register   chan *feedClient
	unregister chan *feedClient
	done       chan struct{}
	lock       sync.RWMutex
	upgrader   websocket.Upgrader
}

// feedClient 是一个WebSocket连接的代表
type feedClient struct {
	hub  *FeedHub
	id   string
	conn *websocket.Conn
	send chan []byte
}

func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients:    make(map[string]*feedClient),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Run 处理连接的注册和注销，直到 ctx 结束；结束时关闭所有连接。
func (h *FeedHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.lock.Lock()
			h.clients[c.id] = c
			h.lock.Unlock()
			logger.Ctx(ctx).Debug().Str("client", c.id).Msg("feed client registered")
		case c := <-h.unregister:
			h.lock.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.lock.Unlock()
			logger.Ctx(ctx).Debug().Str("client", c.id).Msg("feed client unregistered")
		case <-ctx.Done():
			h.lock.Lock()
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
			}
			h.lock.Unlock()
			return
		}
	}
}

// Publish 把事件广播给所有连接。发送缓冲已满的慢连接会丢弃这条事件。
func (h *FeedHub) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.lock.RLock()
	defer h.lock.RUnlock()
	for id, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			logger.Ctx(ctx).Warn().Str("client", id).Str("event", string(event.Type)).Msg("feed client too slow, event dropped")
		}
	}
	return nil
}

// ClientCount 返回当前连接数
func (h *FeedHub) ClientCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// ServeWS 把 HTTP 请求升级为 WebSocket 并注册到 Hub
func (h *FeedHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &feedClient{hub: h, id: uuid.NewString(), conn: conn, send: make(chan []byte, feedSendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// writePump 负责将send channel中的消息写入websocket，并定期发送 ping
func (c *feedClient) writePump() {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只负责处理 pong 和连接关闭，管理端不会发送业务消息
func (c *feedClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

var _ port.EventPublisher = (*FeedHub)(nil)
