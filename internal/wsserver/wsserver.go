// Package wsserver upgrades inbound HTTP requests to WebSocket connections,
// enforces authentication and admission before accepting, and adapts a
// gorilla/websocket connection to the controller.Socket interface.
package wsserver

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/sttgateway/internal/admission"
	"github.com/rapidaai/sttgateway/internal/config"
	"github.com/rapidaai/sttgateway/internal/controller"
	"github.com/rapidaai/sttgateway/internal/engine"
	"github.com/rapidaai/sttgateway/internal/gwerr"
	"github.com/rapidaai/sttgateway/internal/metrics"
	"github.com/rapidaai/sttgateway/internal/obslog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts WebSocket connections for the gateway's single endpoint.
type Server struct {
	logger    obslog.Logger
	settings  *config.Settings
	admission *admission.Manager
	engineF   engine.Factory
	metrics   *metrics.Metrics
}

// New builds a Server. admissionMgr and engineF are shared across
// connections. m may be nil.
func New(logger obslog.Logger, settings *config.Settings, admissionMgr *admission.Manager, engineF engine.Factory, m *metrics.Metrics) *Server {
	return &Server{logger: logger, settings: settings, admission: admissionMgr, engineF: engineF, metrics: m}
}

// Handler returns a gin.HandlerFunc suitable for registering at
// settings.WebSocketPath.
func (s *Server) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authenticate(c.Request) {
			s.metrics.ConnectionRejected(c.Request.Context(), "authentication_failed")
			s.rejectBeforeUpgrade(c, gwerr.CloseAuthFailed, gwerr.CodeAuthenticationFailed, "authentication failed")
			return
		}
		if !s.admission.TryAdmit() {
			s.metrics.ConnectionRejected(c.Request.Context(), "server_at_capacity")
			s.rejectBeforeUpgrade(c, gwerr.CloseAtCapacity, gwerr.CodeServerAtCapacity, "server at capacity")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.admission.Release()
			s.logger.Warnw("wsserver: upgrade failed", "error", err)
			return
		}

		s.metrics.ConnectionAdmitted(c.Request.Context())
		go s.serve(conn)
	}
}

// authenticate performs a constant-time comparison of the api_key query
// parameter (or, failing that, the X-API-Key header, then an
// "Authorization: Bearer" header) against the configured secret. An
// empty configured key disables authentication entirely.
func (s *Server) authenticate(r *http.Request) bool {
	if s.settings.APIKey == "" {
		return true
	}
	supplied := r.URL.Query().Get("api_key")
	if supplied == "" {
		supplied = r.Header.Get("X-API-Key")
	}
	if supplied == "" {
		if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
			supplied = auth[7:]
		}
	}
	if supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(s.settings.APIKey)) == 1
}

// rejectBeforeUpgrade accepts the socket (so a close frame with a custom
// code can be sent at all, since plain HTTP rejection can't carry a
// WebSocket close code) then immediately sends one error envelope and
// closes with the given code, per spec §7's authentication/admission
// propagation policy.
func (s *Server) rejectBeforeUpgrade(c *gin.Context, closeCode int, errCode, message string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.Status(http.StatusUnauthorized)
		return
	}
	defer conn.Close()

	data, _ := marshalRejectEnvelope(errCode, message)
	_ = conn.WriteMessage(websocket.TextMessage, data)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, message), time.Now().Add(time.Second))
}

func marshalRejectEnvelope(code, message string) ([]byte, error) {
	return []byte(`{"type":"error","session_id":"unknown","request_id":"unknown","payload":{"code":"` + code + `","message":"` + message + `","details":{}}}`), nil
}

func (s *Server) serve(conn *websocket.Conn) {
	defer s.admission.Release()
	defer conn.Close()

	connLogger := s.logger.With("conn_id", uuid.NewString())
	sock := &connSocket{conn: conn}
	sess := controller.New(connLogger, s.settings, sock, s.engineF, s.metrics)

	if err := sess.Run(context.Background()); err != nil {
		connLogger.Debugw("wsserver: session ended", "error", err)
	}
}

// connSocket adapts a *websocket.Conn to controller.Socket.
type connSocket struct {
	conn *websocket.Conn
}

func (c *connSocket) ReadText(ctx context.Context, timeout time.Duration) (string, bool, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return "", false, nil
		}
		return "", true, nil
	}
	if typ != websocket.TextMessage {
		return "", false, nil
	}
	return string(data), false, nil
}

func (c *connSocket) WriteText(ctx context.Context, data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *connSocket) Close(code int, reason string) error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	return c.conn.Close()
}
