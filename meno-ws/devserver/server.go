// Package devserver runs the realtime protocol over long lived websocket
// connections held by this process, for local development without API
// Gateway. All coordination state lives in the Coordinator's stores; the
// server only keeps the sockets it holds.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	menorest "github.com/meno-tutor/meno-go-realtime/meno-rest"
	menows "github.com/meno-tutor/meno-go-realtime/meno-ws"
	"github.com/meno-tutor/meno-go-realtime/meno-ws/connectiondao"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	defaultQueueSize = 64

	// CloseMissingSession is the close code sent when a socket opens without
	// the session information needed to join.
	CloseMissingSession = 4001

	// LocalEndpointPrefix marks connections held by a dev server process.
	LocalEndpointPrefix = "local:"
)

var (
	errQueueFull = errors.New("outbound queue full")
	errNotHeld   = errors.New("connection held by another process")
)

type socket struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// set once, before done is closed
	closeCode   int
	closeReason string
}

func (s *socket) close() {
	s.closeWith(websocket.CloseNormalClosure, "")
}

func (s *socket) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeReason = reason
		close(s.done)
	})
}

// Server holds the sockets of one process. Connections it registers carry
// Endpoint, so frames for connections owned elsewhere are never mistaken for
// sockets this process lost.
type Server struct {
	Coordinator *menows.Coordinator
	Logger      zerolog.Logger
	Upgrader    websocket.Upgrader
	QueueSize   int    // outbound frames buffered per socket (default 64)
	Endpoint    string // identifies this process in the connection registry

	// Fallback delivers to connections owned by the gateway when the stores
	// are shared with it. Optional.
	Fallback menows.Sender

	mu      sync.RWMutex
	sockets map[string]*socket
}

func New(coordinator *menows.Coordinator, logger zerolog.Logger) *Server {
	return &Server{
		Coordinator: coordinator,
		Logger:      logger,
		Endpoint:    LocalEndpointPrefix + uuid.NewString(),
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes mounts the websocket endpoint at /ws and a health check at /health.
func (s *Server) Routes(r chi.Router) {
	r.Get("/ws", s.serveWS)
	r.Get("/health", s.health)
}

// Send implements menows.Sender. Only a connection registered by this server
// can be reported gone; one owned by the gateway goes to Fallback, and one
// owned by another dev server fails without touching the registry.
func (s *Server) Send(ctx context.Context, conn connectiondao.Connection, data []byte) error {
	if conn.Endpoint != s.Endpoint {
		if s.Fallback != nil && conn.Endpoint != "" && !strings.HasPrefix(conn.Endpoint, LocalEndpointPrefix) {
			return s.Fallback.Send(ctx, conn, data)
		}
		return fmt.Errorf("socket %v at %q: %w", conn.ConnectionID, conn.Endpoint, errNotHeld)
	}

	s.mu.RLock()
	sock, ok := s.sockets[conn.ConnectionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("socket %v: %w", conn.ConnectionID, menows.ErrGone)
	}

	select {
	case <-sock.done:
		return fmt.Errorf("socket %v: %w", conn.ConnectionID, menows.ErrGone)
	case sock.send <- data:
		return nil
	default:
		return fmt.Errorf("socket %v: %w", conn.ConnectionID, errQueueFull)
	}
}

// Len is the number of sockets currently held.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sockets)
}

func (s *Server) register(sock *socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sockets == nil {
		s.sockets = map[string]*socket{}
	}
	s.sockets[sock.id] = sock
}

func (s *Server) unregister(sock *socket) {
	s.mu.Lock()
	delete(s.sockets, sock.id)
	s.mu.Unlock()
	sock.close()
}

func (s *Server) health(w http.ResponseWriter, req *http.Request) {
	menorest.WriteJSON(w, req, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"connections": s.Len(),
	})
}

func (s *Server) serveWS(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	params, paramsErr := menows.ParseConnectParams(query.Get)

	conn, err := s.Upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if paramsErr != nil {
		s.Logger.Warn().Err(paramsErr).Msg("rejecting connection")
		closeWith(conn, CloseMissingSession, paramsErr.Error())
		return
	}

	sock := &socket{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.queueSize()),
		done: make(chan struct{}),
	}
	logger := s.Logger.With().
		Str("connection_id", sock.id).
		Str("session_id", params.SessionID).
		Str("participant_id", params.ParticipantID).
		Logger()
	ctx := logger.WithContext(req.Context())

	s.register(sock)
	go s.writePump(logger, sock)

	if err := s.Coordinator.Connect(ctx, s, sock.id, s.Endpoint, params); err != nil {
		sock.closeWith(websocket.CloseInternalServerErr, "failed to join session")
		s.unregister(sock)
		return
	}

	s.readPump(ctx, logger, sock)

	s.unregister(sock)
	if err := s.Coordinator.Disconnect(logger.WithContext(context.Background()), s, sock.id); err != nil {
		logger.Error().Err(err).Msg("disconnect incomplete")
	}
}

func (s *Server) queueSize() int {
	if s.QueueSize > 0 {
		return s.QueueSize
	}
	return defaultQueueSize
}

func (s *Server) readPump(ctx context.Context, logger zerolog.Logger, sock *socket) {
	conn := sock.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn().Err(err).Msg("socket closed unexpectedly")
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		ack := s.Coordinator.Dispatch(ctx, s, sock.id, data)
		if frame := ack.Frame(); frame != nil {
			select {
			case sock.send <- frame:
			case <-sock.done:
				return
			default:
				logger.Warn().Str("action", ack.Action).Msg("dropping ack; outbound queue full")
			}
		}
	}
}

func (s *Server) writePump(logger zerolog.Logger, sock *socket) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sock.conn.Close()
	}()

	for {
		select {
		case data := <-sock.send:
			_ = sock.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sock.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Msg("write failed")
				sock.close()
				return
			}
		case <-ticker.C:
			_ = sock.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sock.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sock.close()
				return
			}
		case <-sock.done:
			closeWith(sock.conn, sock.closeCode, sock.closeReason)
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = conn.Close()
}
