package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gw "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/internal/service"
	"github.com/zeroxmods/certmint/pkg/errs"
	"github.com/zeroxmods/certmint/pkg/logger"
	"github.com/zeroxmods/certmint/pkg/response"
)

type Conn = gw.Conn

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = gw.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusSource 提供订单当前铸造进度
type StatusSource interface {
	Status(ctx context.Context, orderID string) (*service.MintEvent, error)
}

type Handler struct {
	hub    *Hub
	status StatusSource
}

func NewHandler(hub *Hub, status StatusSource) *Handler {
	return &Handler{hub: hub, status: status}
}

// Serve godoc
// @Summary 订阅铸造进度
// @Description 升级为 WebSocket，先推送当前状态快照，之后推送每次进度变化
// @Tags ownership
// @Param orderId path string true "订单ID"
// @Success 101
// @Failure 404 {object} response.Response
// @Router /ownership/order/{orderId}/ws [get]
func (h *Handler) Serve(c *gin.Context) {
	orderID := c.Param("orderId")
	snapshot, err := h.status.Status(c.Request.Context(), orderID)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			response.NotFound(c, "order not found")
			return
		}
		response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	cl := &client{hub: h.hub, conn: conn, send: make(chan []byte, 32), orderID: orderID}
	if !h.hub.join(cl) {
		_ = conn.Close()
		return
	}
	if b, err := json.Marshal(snapshot); err == nil {
		select {
		case cl.send <- b:
		case <-time.After(time.Second):
		}
	}
	go cl.writePump()
	go cl.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gw.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gw.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
