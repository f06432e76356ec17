package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargebridge/internal/backend"
	"chargebridge/internal/pending"
	"chargebridge/internal/registry"
	"chargebridge/internal/router"
)

const validateTimeout = 5 * time.Second

// ErrNotRegistered is returned when the registry does not know the device id.
var ErrNotRegistered = errors.New("session: device not registered")

// Manager owns the set of live device sessions: it validates identity against
// the registry before a session becomes active and relays frames between the
// device and backend channels.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	registry registry.DeviceRegistry
	bus      backend.Bus
	router   *router.Router
	pending  *pending.Table
	cfg      Config
	logger   *zap.Logger
}

// NewManager builds the live-session registry.
func NewManager(reg registry.DeviceRegistry, bus backend.Bus, rt *router.Router, table *pending.Table, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		registry: reg,
		bus:      bus,
		router:   rt,
		pending:  table,
		cfg:      cfg,
		logger:   logger,
	}
}

// StartSession validates the device and, on success, runs the session workers
// in the background. The connection is closed with a distinguishing code when
// validation fails.
func (m *Manager) StartSession(ctx context.Context, deviceID, proto string, conn *websocket.Conn) {
	sess := newSession(deviceID, proto, conn, m, m.cfg, m.logger)
	sess.state.Store(int32(StateValidating))

	if err := m.validate(ctx, deviceID); err != nil {
		if errors.Is(err, ErrNotRegistered) {
			m.logger.Warn("rejecting unregistered device", zap.String("device_id", deviceID))
			closeWithCode(conn, CloseUnregisteredDevice, "device not registered")
		} else {
			m.logger.Error("registry lookup failed",
				zap.String("device_id", deviceID), zap.Error(err))
			closeWithCode(conn, websocket.CloseInternalServerErr, "registry unavailable")
		}
		sess.state.Store(int32(StateClosed))
		return
	}

	if old := m.swap(sess); old != nil {
		m.logger.Info("replacing existing session", zap.String("device_id", deviceID))
		old.close()
	}

	m.logger.Info("device session active",
		zap.String("device_id", deviceID), zap.String("protocol", proto))
	go sess.run(context.WithoutCancel(ctx))
}

// validate checks the device against the registry within a bounded lookup.
func (m *Manager) validate(ctx context.Context, deviceID string) error {
	lookupCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	exists, err := m.registry.Exists(lookupCtx, deviceID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotRegistered
	}
	return nil
}

// swap installs the session and returns any previous one for the same device.
func (m *Manager) swap(sess *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.sessions[sess.deviceID]
	m.sessions[sess.deviceID] = sess
	return old
}

func (m *Manager) remove(sess *Session) {
	m.mu.Lock()
	if m.sessions[sess.deviceID] == sess {
		delete(m.sessions, sess.deviceID)
	}
	m.mu.Unlock()
}

// IsActive reports whether the device has a live, active session.
func (m *Manager) IsActive(deviceID string) bool {
	m.mu.RLock()
	sess, ok := m.sessions[deviceID]
	m.mu.RUnlock()
	return ok && sess.State() == StateActive
}

// Info describes a live session for operational endpoints.
type Info struct {
	DeviceID     string    `json:"deviceId"`
	Protocol     string    `json:"protocol"`
	State        string    `json:"state"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Snapshot lists the live sessions.
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, Info{
			DeviceID:     sess.deviceID,
			Protocol:     sess.protocol,
			State:        sess.State().String(),
			ConnectedAt:  sess.connectedAt,
			LastActivity: sess.LastActivity(),
		})
	}
	return out
}

// CloseAll shuts every live session down, used on gateway shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		sess.close()
	}
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
