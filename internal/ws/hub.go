// Package ws pushes mint progress to browsers over WebSocket, one room per order.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/internal/service"
	"github.com/zeroxmods/certmint/pkg/logger"
)

type client struct {
	hub     *Hub
	conn    *Conn
	send    chan []byte
	orderID string
}

// Hub 按订单分组的广播中心，所有 map 操作只在 Run 协程中进行
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan service.MintEvent
	clients    map[string]map[*client]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan service.MintEvent, 256),
		clients:    make(map[string]map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*client]struct{})
				h.clients[c.orderID] = set
			}
			set[c] = struct{}{}
		case c := <-h.unregister:
			h.drop(c)
		case evt := <-h.broadcast:
			msg, err := json.Marshal(evt)
			if err != nil {
				logger.Warn("ws marshal failed", zap.Error(err))
				continue
			}
			for c := range h.clients[evt.OrderID] {
				select {
				case c.send <- msg:
				default:
					// 慢连接直接踢掉
					h.drop(c)
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = map[string]map[*client]struct{}{}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	set, ok := h.clients[c.orderID]
	if !ok {
		return
	}
	if _, exists := set[c]; exists {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.orderID)
	}
}

// Notify implements service.Notifier. Events are dropped once the hub is stopped.
func (h *Hub) Notify(ctx context.Context, evt service.MintEvent) error {
	select {
	case h.broadcast <- evt:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
