package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-chat/backend/internal/handler/apierr"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/turn"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// TurnRunner executes one conversational turn with progressive reveal.
type TurnRunner interface {
	Run(ctx context.Context, sessionID, input string, reveal turn.RevealFunc) (chat.Message, error)
}

// Handler WebSocket对话处理器
type Handler struct {
	chatSvc  *chatservice.Service
	turns    TurnRunner
	upgrader websocket.Upgrader

	readTimeout  time.Duration
	pingInterval time.Duration
}

// New 创建WebSocket处理器
func New(chatSvc *chatservice.Service, turns TurnRunner) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		turns:   turns,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout:  readTimeout,
		pingInterval: pingInterval,
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection serializes writes; gorilla allows one concurrent writer.
type connection struct {
	*websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *connection) send(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *connection) sendError(err error) {
	_, code := apierr.Classify(err)
	if writeErr := c.send("error", map[string]string{
		"message": apierr.Message(err),
		"code":    string(code),
	}); writeErr != nil {
		log.Printf("[websocket] write error failed: %v", writeErr)
	}
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		apierr.Respond(w, err)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	conn := &connection{Conn: raw, sessionID: sessionID}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go pingLoop(ctx, conn, h.pingInterval)

	if err := conn.send("connected", map[string]any{
		"memoryKey": session.MemoryKey,
		"settings":  session.Settings,
	}); err != nil {
		log.Printf("[websocket] write connected failed: %v", err)
		return
	}

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}

		if msg.SessionID != "" && msg.SessionID != sessionID {
			conn.sendError(apierr.ErrSessionMismatch)
			conn.SetReadDeadline(time.Now().Add(h.readTimeout))
			continue
		}

		// 处理期间不读取，pong 无法续期，所以先取消读超时
		conn.SetReadDeadline(time.Time{})
		h.handleMessage(ctx, conn, &msg)
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

// handleMessage 按类型分发入站消息；一次只处理一帧
func (h *Handler) handleMessage(ctx context.Context, conn *connection, msg *inboundMessage) {
	switch msg.Type {
	case "message":
		h.handleTextMessage(ctx, conn, msg.Data)
	case "clear":
		h.handleClear(ctx, conn)
	case "settings":
		h.handleSettings(ctx, conn, msg.Data)
	default:
		conn.sendError(apierr.Unsupported(msg.Type))
	}
}

func (h *Handler) handleTextMessage(ctx context.Context, conn *connection, raw json.RawMessage) {
	var text TextMessage
	if err := json.Unmarshal(raw, &text); err != nil {
		conn.sendError(apierr.Invalid("invalid message payload"))
		return
	}

	reply, err := h.turns.Run(ctx, conn.sessionID, text.Text, func(chunk string) error {
		return conn.send("delta", map[string]string{"content": chunk})
	})
	if err != nil {
		if reply.ID != "" {
			log.Printf("[websocket] reveal interrupted session=%s: %v", conn.sessionID, err)
			return
		}
		conn.sendError(err)
		return
	}

	if err := conn.send("message", reply); err != nil {
		log.Printf("[websocket] write message failed: %v", err)
		return
	}
	if err := conn.send("end", map[string]bool{"finished": true}); err != nil {
		log.Printf("[websocket] write end failed: %v", err)
	}
}

func (h *Handler) handleClear(ctx context.Context, conn *connection) {
	if err := h.chatSvc.Clear(ctx, conn.sessionID); err != nil {
		conn.sendError(err)
		return
	}
	if err := conn.send("cleared", nil); err != nil {
		log.Printf("[websocket] write cleared failed: %v", err)
	}
}

func (h *Handler) handleSettings(ctx context.Context, conn *connection, raw json.RawMessage) {
	var patch chat.SettingsPatch
	if err := json.Unmarshal(raw, &patch); err != nil {
		conn.sendError(apierr.Invalid("invalid settings payload"))
		return
	}

	session, reset, err := h.chatSvc.UpdateSettings(ctx, conn.sessionID, patch)
	if err != nil {
		conn.sendError(err)
		return
	}
	if err := conn.send("settings", map[string]any{
		"settings":    session.Settings,
		"memoryKey":   session.MemoryKey,
		"memoryReset": reset,
	}); err != nil {
		log.Printf("[websocket] write settings failed: %v", err)
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *connection, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
