package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lunalabs/luna/pkg/bus"
	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
)

// webFrame is one client-to-server websocket message.
type webFrame struct {
	UserID   string `json:"user_id"`
	Content  string `json:"content"`
	Selected *struct {
		ID   string `json:"id"`
		Text string `json:"text,omitempty"`
	} `json:"selected_reply,omitempty"`
}

// webReply is one server-to-client websocket message.
type webReply struct {
	Content      string                      `json:"content"`
	ContentType  protocol.ContentType        `json:"content_type"`
	ReplyOptions []protocol.QuickReplyOption `json:"reply_options,omitempty"`
	Metadata     map[string]any              `json:"metadata,omitempty"`
	Timestamp    time.Time                   `json:"timestamp"`
}

// WebChannel serves browser clients over websocket. Each connection binds to
// a user id on its first frame; responses route back over the same
// connection. Quick-reply options go out verbatim for the frontend to
// render.
type WebChannel struct {
	*BaseChannel
	listenAddr string
	upgrader   websocket.Upgrader
	server     *http.Server
	// runCtx is the gateway lifetime context. Websocket connections outlive
	// the upgrade request, so the request context cannot cover the read loop.
	runCtx context.Context

	connMu sync.RWMutex
	conns  map[string]*websocket.Conn
}

func NewWebChannel(listenAddr string, b *bus.MessageBus, allowList []string) *WebChannel {
	return &WebChannel{
		BaseChannel: NewBaseChannel("web", b, allowList),
		listenAddr:  listenAddr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*websocket.Conn),
	}
}

func (c *WebChannel) Start(ctx context.Context) error {
	c.runCtx = ctx
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.handleUpgrade)
	c.server = &http.Server{Addr: c.listenAddr, Handler: mux}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("channels", "Web server failed", map[string]any{"error": err.Error()})
		}
	}()
	c.SetRunning(true)
	return nil
}

func (c *WebChannel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	c.connMu.Lock()
	for _, conn := range c.conns {
		conn.Close()
	}
	c.conns = make(map[string]*websocket.Conn)
	c.connMu.Unlock()
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

func (c *WebChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("channels", "Websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	go c.readLoop(conn)
}

func (c *WebChannel) readLoop(conn *websocket.Conn) {
	userID := ""
	defer func() {
		if userID != "" {
			c.connMu.Lock()
			if c.conns[userID] == conn {
				delete(c.conns, userID)
			}
			c.connMu.Unlock()
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.DebugCF("channels", "Websocket read ended", map[string]any{"error": err.Error()})
			}
			return
		}

		var frame webFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.UserID == "" {
			continue
		}
		if userID == "" {
			userID = frame.UserID
			c.connMu.Lock()
			c.conns[userID] = conn
			c.connMu.Unlock()
		}

		var selected *protocol.SelectedQuickReply
		if frame.Selected != nil {
			selected = &protocol.SelectedQuickReply{ID: frame.Selected.ID, Text: frame.Selected.Text}
		}
		// Browser frames carry no platform message id; a fresh uuid keeps
		// the dedupe set from swallowing repeats of the same text.
		c.HandleMessage(c.runCtx, frame.UserID, uuid.New().String(), frame.Content, protocol.ContentText, selected, nil)
	}
}

func (c *WebChannel) Send(ctx context.Context, msg *protocol.ResponseMessage) error {
	c.connMu.RLock()
	conn, ok := c.conns[msg.ChannelUserID]
	c.connMu.RUnlock()
	if !ok {
		logger.WarnCF("channels", "No live web connection for user", map[string]any{
			"channel_user_id": msg.ChannelUserID,
		})
		return nil
	}

	reply := webReply{
		Content:      msg.Content,
		ContentType:  msg.ContentType,
		ReplyOptions: msg.ReplyOptions,
		Metadata:     msg.Metadata,
		Timestamp:    msg.Timestamp,
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
