package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"schoolportal-backend/internal/domain"
	"schoolportal-backend/internal/service/call"
	"schoolportal-backend/pkg/config"
	apperrors "schoolportal-backend/pkg/errors"
	"schoolportal-backend/pkg/logger"
	"schoolportal-backend/pkg/metrics"
)

// CallService is the orchestrator surface the hub dispatches commands to
type CallService interface {
	Initiate(ctx context.Context, callerID uuid.UUID, recipientIDs []uuid.UUID, kind domain.CallKind) (*call.InitiateOutput, error)
	Answer(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error)
	Decline(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error)
	End(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error)
	MarkBusy(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error)
	ActiveFor(ctx context.Context, userID uuid.UUID) []*domain.CallSession
	Disconnect(ctx context.Context, userID uuid.UUID)
}

// Relayer forwards signaling payloads between session members
type Relayer interface {
	Relay(senderID, sessionID uuid.UUID, targetUserID *uuid.UUID, payload json.RawMessage) int
}

// HubConfig configures the call hub
type HubConfig struct {
	WebSocket      config.WebSocketConfig
	AllowedOrigins []string
	// ReadLimit caps one inbound frame; larger frames close the connection
	ReadLimit int64
}

// CallHub is the connection registry: it maps each user to their live
// WebSocket connections and dispatches their inbound call commands.
type CallHub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*CallClient]struct{}

	calls   CallService
	relay   Relayer
	cfg     HubConfig
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// CallClient is one WebSocket connection of a user
type CallClient struct {
	hub       *CallHub
	conn      *websocket.Conn
	send      chan []byte
	userID    uuid.UUID
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewCallHub creates a call hub. Bind must be called before serving.
func NewCallHub(cfg HubConfig, m *metrics.Metrics) *CallHub {
	if cfg.WebSocket.MaxConnections <= 0 {
		cfg.WebSocket.MaxConnections = 1000
	}
	if cfg.WebSocket.SendBuffer <= 0 {
		cfg.WebSocket.SendBuffer = 256
	}
	if cfg.WebSocket.PingInterval <= 0 {
		cfg.WebSocket.PingInterval = 54 * time.Second
	}
	if cfg.WebSocket.WriteTimeout <= 0 {
		cfg.WebSocket.WriteTimeout = 10 * time.Second
	}

	h := &CallHub{
		clients:   make(map[uuid.UUID]map[*CallClient]struct{}),
		cfg:       cfg,
		metrics:   m,
		semaphore: make(chan struct{}, cfg.WebSocket.MaxConnections),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Bind attaches the orchestrator and the signaling router
func (h *CallHub) Bind(calls CallService, relay Relayer) {
	h.calls = calls
	h.relay = relay
}

func (h *CallHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || (origin != "" && origin == allowed) {
			return true
		}
	}
	// Reject empty origins unless every origin is allowed
	return false
}

// Deliver pushes event to every live connection of userID without blocking.
// A connection whose buffer is full is closed; its client must resync.
func (h *CallHub) Deliver(userID uuid.UUID, event *domain.Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal event",
			zap.String("event", string(event.Type)),
			zap.Error(err))
		return 0
	}

	delivered := 0
	var slow []*CallClient

	h.mu.RLock()
	for client := range h.clients[userID] {
		select {
		case client.send <- data:
			delivered++
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		logger.Warn("Send buffer full, closing connection",
			zap.String("user_id", userID.String()))
		h.unregister(client)
	}

	result := "delivered"
	if delivered == 0 {
		result = "dropped"
	}
	h.metrics.RecordEvent(string(event.Type), result)
	return delivered
}

// IsOnline reports whether userID has a live connection
func (h *CallHub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// ConnectionCount returns the number of live connections
func (h *CallHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (h *CallHub) register(client *CallClient) {
	h.mu.Lock()
	set, ok := h.clients[client.userID]
	if !ok {
		set = make(map[*CallClient]struct{})
		h.clients[client.userID] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()

	h.metrics.SetWebSocketConnections(h.ConnectionCount())
}

// unregister removes client. When it was the user's last connection the
// orchestrator tears down the user's sessions.
func (h *CallHub) unregister(client *CallClient) {
	h.mu.Lock()
	set, ok := h.clients[client.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := set[client]; !exists {
		h.mu.Unlock()
		return
	}
	delete(set, client)
	last := len(set) == 0
	if last {
		delete(h.clients, client.userID)
	}
	h.mu.Unlock()

	client.close()
	h.metrics.SetWebSocketConnections(h.ConnectionCount())

	// Disconnect runs on its own goroutine: unregister can be reached from
	// Deliver while a session's delivery lock is held.
	if last && h.calls != nil {
		logger.Debug("Last connection closed",
			zap.String("user_id", client.userID.String()))
		go h.disconnectIfOffline(client.userID)
	}
}

// disconnectIfOffline tears down userID's sessions unless a new connection
// registered after the last one closed, e.g. a page reload.
func (h *CallHub) disconnectIfOffline(userID uuid.UUID) {
	if h.IsOnline(userID) {
		logger.Debug("User reconnected, keeping sessions",
			zap.String("user_id", userID.String()))
		return
	}
	h.calls.Disconnect(context.Background(), userID)
}

// ServeWS upgrades the request and registers the connection for the
// authenticated user.
func (h *CallHub) ServeWS(c *gin.Context) {
	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.cfg.WebSocket.MaxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	// Get user ID from context (set by auth middleware)
	userIDVal, exists := c.Get("user_id")
	if !exists {
		<-h.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		<-h.semaphore
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &CallClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.cfg.WebSocket.SendBuffer),
		userID: userID,
		ctx:    ctx,
		cancel: cancel,
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *CallClient) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
	})
}

func (c *CallClient) pongWait() time.Duration {
	return c.hub.cfg.WebSocket.PingInterval * 10 / 9
}

// readPump reads commands until the connection closes
func (c *CallClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		<-c.hub.semaphore
	}()

	if c.hub.cfg.ReadLimit > 0 {
		c.conn.SetReadLimit(c.hub.cfg.ReadLimit)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}

		var cmd domain.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			c.sendError("", apperrors.ValidationError("Malformed frame"))
			continue
		}
		c.hub.metrics.RecordWebSocketMessage(string(cmd.Type), "in")
		c.dispatch(&cmd)
	}
}

// dispatch maps one inbound command to one orchestrator or router operation
func (c *CallClient) dispatch(cmd *domain.Command) {
	calls := c.hub.calls

	switch cmd.Type {
	case domain.CommandInitiate:
		out, err := calls.Initiate(c.ctx, c.userID, cmd.RecipientIDs, cmd.Kind)
		if out != nil && out.Session != nil {
			if err != nil {
				c.sendErrorWithSession(cmd.RequestID, err, out.Session)
				return
			}
			c.sendAck(cmd.RequestID, out.Session)
			return
		}
		c.sendError(cmd.RequestID, err)

	case domain.CommandAnswer:
		session, err := calls.Answer(c.ctx, c.userID, cmd.SessionID)
		c.reply(cmd.RequestID, session, err)

	case domain.CommandDecline:
		session, err := calls.Decline(c.ctx, c.userID, cmd.SessionID)
		c.replyIdempotent(cmd.RequestID, session, err)

	case domain.CommandEnd:
		session, err := calls.End(c.ctx, c.userID, cmd.SessionID)
		c.replyIdempotent(cmd.RequestID, session, err)

	case domain.CommandBusy:
		session, err := calls.MarkBusy(c.ctx, c.userID, cmd.SessionID)
		c.replyIdempotent(cmd.RequestID, session, err)

	case domain.CommandRelay:
		if c.hub.relay != nil {
			c.hub.relay.Relay(c.userID, cmd.SessionID, cmd.TargetUserID, cmd.Payload)
		}

	case domain.CommandSync:
		event := domain.NewEvent(domain.EventState, uuid.Nil)
		event.RequestID = cmd.RequestID
		event.Sessions = calls.ActiveFor(c.ctx, c.userID)
		c.sendEvent(event)

	default:
		c.sendError(cmd.RequestID, apperrors.ValidationError("Unknown command type"))
	}
}

func (c *CallClient) reply(requestID string, session *domain.CallSession, err error) {
	if err != nil {
		c.sendError(requestID, err)
		return
	}
	c.sendAck(requestID, session)
}

// replyIdempotent treats an unknown session as already gone
func (c *CallClient) replyIdempotent(requestID string, session *domain.CallSession, err error) {
	if apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
		c.sendAck(requestID, nil)
		return
	}
	c.reply(requestID, session, err)
}

func (c *CallClient) sendAck(requestID string, session *domain.CallSession) {
	var sessionID uuid.UUID
	if session != nil {
		sessionID = session.ID
	}
	event := domain.NewEvent(domain.EventAck, sessionID)
	event.RequestID = requestID
	event.Session = session
	c.sendEvent(event)
}

func (c *CallClient) sendError(requestID string, err error) {
	c.sendErrorWithSession(requestID, err, nil)
}

func (c *CallClient) sendErrorWithSession(requestID string, err error, session *domain.CallSession) {
	var appErr *apperrors.AppError
	if apperrors.IsAppError(err) {
		appErr = apperrors.GetAppError(err)
	} else {
		logger.Error("Call command failed",
			zap.String("user_id", c.userID.String()),
			zap.Error(err))
		appErr = apperrors.InternalError("Internal error")
	}

	var sessionID uuid.UUID
	if session != nil {
		sessionID = session.ID
	}
	event := domain.NewEvent(domain.EventError, sessionID)
	event.RequestID = requestID
	event.Session = session
	event.Code = appErr.ProtocolCode()
	event.Message = appErr.Message
	c.sendEvent(event)
}

// sendEvent queues a frame for this connection only
func (c *CallClient) sendEvent(event *domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, live := c.hub.clients[c.userID][c]; !live {
		return
	}
	select {
	case c.send <- data:
	default:
		logger.Warn("Reply dropped, send buffer full",
			zap.String("user_id", c.userID.String()))
	}
}

// writePump writes queued frames and keeps the connection alive with pings
func (c *CallClient) writePump() {
	ticker := time.NewTicker(c.hub.cfg.WebSocket.PingInterval)
	writeTimeout := c.hub.cfg.WebSocket.WriteTimeout
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
