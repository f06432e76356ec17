package session

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades device HTTP connections to WebSockets. The device id is
// embedded in the request path below basePath, and the OCPP protocol version
// is negotiated through the websocket subprotocol.
type Server struct {
	manager  *Manager
	basePath string
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer builds the device-facing websocket endpoint.
func NewServer(manager *Manager, basePath string, acceptedProtocols []string, logger *zap.Logger) *Server {
	return &Server{
		manager:  manager,
		basePath: basePath,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    acceptedProtocols,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is the HTTP handler mounted at basePath.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimPrefix(r.URL.Path, s.basePath)
	if deviceID == "" || strings.Contains(deviceID, "/") {
		http.Error(w, "device id is required in path", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed",
			zap.String("device_id", deviceID), zap.Error(err))
		return
	}

	// An empty negotiated subprotocol means the device offered none of the
	// accepted versions; that is rejected before any session state exists.
	if conn.Subprotocol() == "" {
		s.logger.Warn("no common protocol version",
			zap.String("device_id", deviceID),
			zap.Strings("accepted", s.upgrader.Subprotocols))
		closeWithCode(conn, CloseProtocolMismatch, "no supported protocol version")
		return
	}

	s.manager.StartSession(r.Context(), deviceID, conn.Subprotocol(), conn)
}
