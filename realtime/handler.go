package realtime

import (
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// CloseAuthFailed is the close code sent when the token is missing or invalid.
	CloseAuthFailed = 4001

	DefaultPingInterval = 25 * time.Second
	DefaultPongTimeout  = 60 * time.Second

	writeWait      = 10 * time.Second
	maxInboundSize = 4096
)

var errMissingToken = errors.New("missing token")

// Verifier resolves a bearer token to its owner.
type Verifier interface {
	UserIDFromToken(token string) (string, error)
}

// Handler serves GET /ws/sync.
type Handler struct {
	hub          *Hub
	auth         Verifier
	log          *log.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// Option customises a Handler.
type Option func(*Handler)

// WithHeartbeat overrides the ping interval and the pong deadline.
func WithHeartbeat(ping, timeout time.Duration) Option {
	return func(h *Handler) {
		h.pingInterval = ping
		h.pongTimeout = timeout
	}
}

// WithAllowedOrigins restricts the Origin header of upgrade requests. Empty or "*" allows all.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			if o == "*" {
				h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
				return
			}
			allowed[o] = struct{}{}
		}
		if len(allowed) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

func NewHandler(hub *Hub, auth Verifier, logger *log.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &Handler{
		hub:  hub,
		auth: auth,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingInterval: DefaultPingInterval,
		pongTimeout:  DefaultPongTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

// ServeHTTP upgrades the connection. A request without a valid token is upgraded and
// immediately closed with CloseAuthFailed so browsers can tell it apart from a network error.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var owner string
	authErr := errMissingToken
	if token := tokenFromRequest(r); token != "" {
		owner, authErr = h.auth.UserIDFromToken(token)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	if authErr != nil {
		h.log.WithError(authErr).Info("websocket authentication failed")
		msg := websocket.FormatCloseMessage(CloseAuthFailed, "authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	peer := h.hub.Register(owner)
	s := &session{handler: h, conn: conn, peer: peer}
	s.lastPong.Store(time.Now().UnixNano())
	go s.writeLoop()
	s.readLoop()
}

type session struct {
	handler  *Handler
	conn     *websocket.Conn
	peer     *Peer
	lastPong atomic.Int64
}

func (s *session) readLoop() {
	defer func() {
		s.handler.hub.Unregister(s.peer)
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(maxInboundSize)
	s.conn.SetPongHandler(func(string) error {
		s.lastPong.Store(time.Now().UnixNano())
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.handler.log.WithError(err).Debug("websocket read failed")
			}
			return
		}
		var in Inbound
		if err := sonic.Unmarshal(data, &in); err != nil {
			s.enqueue(control(FrameError, "invalid frame", time.Now()))
			continue
		}
		switch in.Type {
		case FramePing:
			s.lastPong.Store(time.Now().UnixNano())
			s.enqueue(control(FramePong, "", time.Now()))
		case FramePong:
			s.lastPong.Store(time.Now().UnixNano())
		}
	}
}

func (s *session) enqueue(data []byte) {
	select {
	case s.peer.send <- data:
	default:
	}
}

// writeLoop is the only writer of data frames on the connection.
func (s *session) writeLoop() {
	ticker := time.NewTicker(s.handler.pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	if err := s.write(control(FrameConnected, "Connected to real-time sync", time.Now())); err != nil {
		return
	}
	for {
		select {
		case <-s.peer.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(writeWait))
			return
		case data := <-s.peer.Send():
			if err := s.write(data); err != nil {
				return
			}
		case now := <-ticker.C:
			last := time.Unix(0, s.lastPong.Load())
			if now.Sub(last) > s.handler.pongTimeout {
				s.handler.log.WithField("user", s.peer.owner).Info("websocket heartbeat timed out")
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "heartbeat timeout"), time.Now().Add(writeWait))
				return
			}
			if err := s.write(control(FramePing, "", now)); err != nil {
				return
			}
		}
	}
}

func (s *session) write(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
