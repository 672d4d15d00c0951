package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/InsulaLabs/hmacfs/internal/events"
	"github.com/InsulaLabs/hmacfs/internal/metrics"
	"github.com/InsulaLabs/hmacfs/pkg/vpath"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 512                 // Maximum message size allowed from peer.
)

// A session of someone connected wanting to receive change events, optionally
// only those at or below prefix.
type eventSession struct {
	id     string
	conn   *websocket.Conn
	prefix string
	// Buffered channel of outbound messages.
	send chan []byte
	// Service pointer to access logger, etc.
	service *Service

	mu     sync.RWMutex
	closed bool
}

// enqueue never blocks. It reports false when the message was dropped.
func (s *eventSession) enqueue(message []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- message:
		return true
	default:
		return false
	}
}

func (s *eventSession) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *eventSession) wants(p string) bool {
	return s.prefix == "" || s.prefix == p || vpath.IsAncestor(s.prefix, p)
}

// eventSubsystem receives every change published on the bus and hands it to
// the connected websocket sessions.
type eventSubsystem struct {
	service *Service
}

var _ events.TopicSubscriber = &eventSubsystem{}

func (es *eventSubsystem) OnMessage(_ context.Context, event events.Event) {
	es.service.dispatchEvent(event)
}

// eventSubscribeHandler handles WebSocket requests for change subscriptions.
func (s *Service) eventSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	prefix := ""
	if raw := r.URL.Query().Get("prefix"); raw != "" {
		prefix = vpath.Normalize(raw)
	}

	s.wsConnectionLock.Lock()
	if s.eventSessions.Size() >= s.cfg.Sessions.MaxConnections {
		s.wsConnectionLock.Unlock()
		s.logger.Warn("Max WebSocket connections reached, rejecting new connection", "max", s.cfg.Sessions.MaxConnections)
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "TOO_MANY_CONNECTIONS", "Too many connections")
		return
	}
	// Registration re-checks the limit after the upgrade
	s.wsConnectionLock.Unlock()

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}
	s.logger.Info("WebSocket connection upgraded", "remote_addr", conn.RemoteAddr().String(), "prefix", prefix)

	session := &eventSession{
		id:      uuid.NewString(),
		conn:    conn,
		prefix:  prefix,
		send:    make(chan []byte, s.cfg.Sessions.EventChannelSize),
		service: s,
	}

	if !s.registerSubscriber(session) {
		return
	}

	// Launch goroutines for this session
	go session.writePump()
	go session.readPump()
}

func (s *Service) registerSubscriber(session *eventSession) bool {
	s.wsConnectionLock.Lock()
	defer s.wsConnectionLock.Unlock()

	if s.unsubscribe == nil || s.eventSessions.Size() >= s.cfg.Sessions.MaxConnections {
		s.logger.Error("Attempted to register subscriber when it cannot be accepted", "max", s.cfg.Sessions.MaxConnections)
		session.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"),
			time.Now().Add(writeWait),
		)
		session.conn.Close()
		return false
	}

	s.eventSessions.Store(session.id, session)
	metrics.SubscriberConnected()
	s.logger.Info("Subscriber registered", "session", session.id, "remote_addr", session.conn.RemoteAddr().String(), "active", s.eventSessions.Size())
	return true
}

func (s *Service) unregisterSubscriber(session *eventSession) {
	if _, ok := s.eventSessions.LoadAndDelete(session.id); ok {
		metrics.SubscriberDisconnected()
		s.logger.Info("Subscriber unregistered", "session", session.id, "remote_addr", session.conn.RemoteAddr().String())
	}
	session.closeSend()
}

// dispatchEvent sends an event to every interested session. A session whose
// buffer is full misses the event.
func (s *Service) dispatchEvent(event events.Event) {
	if s.eventSessions.Size() == 0 {
		s.logger.Debug("No WebSocket subscribers for event", "topic", event.Topic)
		return
	}

	message, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to marshal event for WebSocket dispatch", "topic", event.Topic, "error", err)
		return
	}

	s.eventSessions.Range(func(id string, session *eventSession) bool {
		if !session.wants(event.Data.Path) {
			return true
		}
		if !session.enqueue(message) {
			metrics.RecordEventDropped()
			s.logger.Warn("Subscriber send channel full, message dropped", "session", id, "path", event.Data.Path)
		}
		return true
	})
}

// readPump pumps messages from the WebSocket connection to the hub.
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (s *eventSession) readPump() {
	defer func() {
		s.service.unregisterSubscriber(s)
		s.conn.Close()
		s.service.logger.Info("WebSocket readPump finished, connection closed and unregistered", "session", s.id)
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))

	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.service.logger.Error("WebSocket read error", "session", s.id, "error", err)
			} else {
				s.service.logger.Info("WebSocket connection closed", "session", s.id, "error", err)
			}
			break
		}
		// Subscribers have nothing to say; anything they send is ignored.
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (s *eventSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close() // Ensure connection is closed if writePump exits
	}()
	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				s.service.logger.Error("WebSocket NextWriter error", "session", s.id, "error", err)
				return
			}
			if _, err := w.Write(message); err != nil {
				s.service.logger.Error("WebSocket message write error", "session", s.id, "error", err)
			}
			if err := w.Close(); err != nil {
				s.service.logger.Error("WebSocket writer close error", "session", s.id, "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.service.logger.Error("WebSocket ping write error", "session", s.id, "error", err)
				return
			}
		case <-s.service.appCtx.Done():
			s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}
