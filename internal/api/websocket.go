package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chemdata-visualizer/client/internal/analysis"
	"github.com/chemdata-visualizer/client/internal/app"
	"github.com/chemdata-visualizer/client/internal/dashboard"
	"github.com/chemdata-visualizer/client/internal/logging"
	"github.com/chemdata-visualizer/client/internal/models"
)

// WebSocket message types
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeView      = "view"
	MsgTypeAnalysis  = "analysis"
	MsgTypeDatasets  = "datasets"
	MsgTypeUpload    = "upload"
	MsgTypeAlert     = "alert"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// WSMessage is the envelope of every WebSocket message.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ViewPayload accompanies MsgTypeView.
type ViewPayload struct {
	Previous models.ViewState `json:"previous"`
	Current  models.ViewState `json:"current"`
}

// AlertPayload accompanies MsgTypeAlert.
type AlertPayload struct {
	Message string `json:"message"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// EventHub pushes navigation, workflow and alert events to every connected
// browser.
type EventHub struct {
	app      *app.App
	logger   *zap.Logger
	upgrader websocket.Upgrader
	detach   []func()

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewEventHub creates a hub subscribed to the events of a.
func NewEventHub(a *app.App, logger *zap.Logger) *EventHub {
	h := &EventHub{
		app:    a,
		logger: logging.OrNop(logger).Named("ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     sameOrigin,
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		clients: make(map[string]*wsClient),
	}

	h.detach = append(h.detach,
		a.Nav.OnChange(func(prev, next models.ViewState) {
			h.Broadcast(MsgTypeView, ViewPayload{Previous: prev, Current: next})
		}),
		a.OnAlert(func(msg string) {
			h.Broadcast(MsgTypeAlert, AlertPayload{Message: msg})
		}),
	)
	a.Dashboard.OnChange(func(ev dashboard.Event) {
		switch ev.Kind {
		case dashboard.EventDatasets:
			h.Broadcast(MsgTypeDatasets, ev.Datasets)
		case dashboard.EventUpload:
			h.Broadcast(MsgTypeUpload, ev.Upload)
		}
	})
	a.Analysis.OnChange(func(v analysis.View) {
		h.Broadcast(MsgTypeAnalysis, v)
	})
	return h
}

// Clients returns the number of connected browsers.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every client. A client whose buffer is full
// is disconnected.
func (h *EventHub) Broadcast(msgType string, payload interface{}) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		Payload:   mustJSON(payload),
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", msgType), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		select {
		case cl.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client", zap.String("client_id", cl.id))
			cl.conn.Close()
		}
	}
}

// HandleWebSocket upgrades the connection, sends the current state and
// keeps the client registered until it disconnects.
func (h *EventHub) HandleWebSocket(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered, 403 for a foreign origin
		h.logger.Warn("websocket upgrade rejected",
			zap.String("origin", c.Request().Header.Get("Origin")),
			zap.Error(err),
		)
		return nil
	}

	cl := &wsClient{
		id:   uuid.NewString(),
		conn: ws,
		send: make(chan []byte, sendBuffer),
	}
	h.register(cl)
	defer h.unregister(cl)

	go h.writeLoop(cl)

	h.logger.Debug("client connected", zap.String("client_id", cl.id))
	h.sendTo(cl, WSMessage{
		Type:      MsgTypeConnected,
		ID:        cl.id,
		Payload:   mustJSON(snapshot(h.app)),
		Timestamp: time.Now().UnixMilli(),
	})

	// Main message loop
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", zap.String("client_id", cl.id), zap.Error(err))
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			// Respond with pong to keep connection alive
			h.sendTo(cl, WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
		default:
			h.sendTo(cl, WSMessage{
				Type:      MsgTypeError,
				ID:        msg.ID,
				Payload:   mustJSON(&APIError{Code: "INVALID_TYPE", Message: "Unknown message type: " + msg.Type}),
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}

	h.logger.Debug("client disconnected", zap.String("client_id", cl.id))
	return nil
}

// Close disconnects every client and stops listening to the app.
func (h *EventHub) Close() {
	for _, fn := range h.detach {
		fn()
	}
	h.mu.RLock()
	for _, cl := range h.clients {
		cl.conn.Close()
	}
	h.mu.RUnlock()
}

func (h *EventHub) register(cl *wsClient) {
	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
	wsClients.Inc()
}

func (h *EventHub) unregister(cl *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[cl.id]; ok {
		delete(h.clients, cl.id)
		close(cl.send)
		wsClients.Dec()
	}
	h.mu.Unlock()
}

func (h *EventHub) sendTo(cl *wsClient, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[cl.id]; !ok {
		return
	}
	select {
	case cl.send <- data:
	default:
		cl.conn.Close()
	}
}

// writeLoop is the only writer of cl.conn.
func (h *EventHub) writeLoop(cl *wsClient) {
	defer cl.conn.Close()
	for data := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("websocket write failed", zap.String("client_id", cl.id), zap.Error(err))
			return
		}
	}
}

// sameOrigin accepts clients without an Origin header and pages served by
// this server. Any other page must not read the session's data.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
