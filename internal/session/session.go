package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargebridge/internal/backend"
	"chargebridge/internal/ocpp"
)

// State of a device session.
type State int32

const (
	StateConnecting State = iota
	StateValidating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateValidating:
		return "validating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close codes distinguishing gateway rejections from normal closure.
const (
	CloseUnregisteredDevice = 4001
	CloseProtocolMismatch   = 4002
)

// Config holds per-session tunables.
type Config struct {
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ViolationLimit int
}

// Session owns one device connection: the device-side read/write pumps, the
// backend out-topic relay, and the in-topic dispatch worker feeding the router.
type Session struct {
	deviceID string
	protocol string
	conn     *websocket.Conn
	manager  *Manager
	cfg      Config
	logger   *zap.Logger

	send        chan []byte
	state       atomic.Int32
	lastActive  atomic.Int64
	connectedAt time.Time

	// violations counts consecutive malformed frames; touched only by the
	// read pump.
	violations int

	closeOnce sync.Once
	cancel    context.CancelFunc
}

func newSession(deviceID, proto string, conn *websocket.Conn, manager *Manager, cfg Config, logger *zap.Logger) *Session {
	s := &Session{
		deviceID:    deviceID,
		protocol:    proto,
		conn:        conn,
		manager:     manager,
		cfg:         cfg,
		logger:      logger,
		send:        make(chan []byte, 16),
		connectedAt: time.Now().UTC(),
	}
	s.state.Store(int32(StateConnecting))
	s.touch()
	return s
}

// DeviceID returns the path-embedded device identifier.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Protocol returns the negotiated subprotocol.
func (s *Session) Protocol() string {
	return s.protocol
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// LastActivity returns when the device last produced a frame.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActive.Load()).UTC()
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UTC().UnixNano())
}

// run drives all four workers. It blocks until the session closes.
func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state.Store(int32(StateActive))

	outSub, err := s.manager.bus.Subscribe(ctx, backend.OutTopic(s.deviceID))
	if err != nil {
		s.logger.Error("subscribe out topic failed", zap.String("device_id", s.deviceID), zap.Error(err))
		s.close()
		return
	}
	inSub, err := s.manager.bus.Subscribe(ctx, backend.InTopic(s.deviceID))
	if err != nil {
		outSub.Close()
		s.logger.Error("subscribe in topic failed", zap.String("device_id", s.deviceID), zap.Error(err))
		s.close()
		return
	}

	go s.writePump(ctx)
	go s.outPump(ctx, outSub)
	go s.dispatchPump(ctx, inSub)
	s.readPump(ctx)
}

// readPump consumes device frames in arrival order: decode, apply the
// malformed-frame policy, and publish well-formed frames to the in topic.
func (s *Session) readPump(ctx context.Context) {
	defer s.close()

	s.conn.SetReadLimit(1024 * 1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Info("device connection closed",
				zap.String("device_id", s.deviceID), zap.Error(err))
			return
		}
		s.touch()
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		if _, err := ocpp.Decode(data); err != nil {
			if !s.handleMalformed(err) {
				return
			}
			continue
		}
		s.violations = 0

		if err := s.manager.bus.Publish(ctx, backend.InTopic(s.deviceID), data); err != nil {
			s.logger.Error("publish device frame failed",
				zap.String("device_id", s.deviceID), zap.Error(err))
		}
	}
}

// handleMalformed applies the malformed-frame policy: answer with a CallError
// when a message id survived parsing, drop silently otherwise, and close the
// session once the consecutive violation limit is hit. Returns false when the
// session must close.
func (s *Session) handleMalformed(err error) bool {
	s.violations++

	var fe *ocpp.FormationError
	if errors.As(err, &fe) && fe.MessageID != "" {
		frame, buildErr := ocpp.BuildCallError(fe.MessageID, ocpp.ErrorCodeFormationViolation, fe.Reason, nil)
		if buildErr == nil {
			s.enqueue(frame)
		}
	}

	s.logger.Warn("malformed frame from device",
		zap.String("device_id", s.deviceID),
		zap.Int("violations", s.violations),
		zap.Error(err))

	if s.violations >= s.cfg.ViolationLimit {
		s.logger.Warn("closing session, malformed frame limit reached",
			zap.String("device_id", s.deviceID))
		return false
	}
	return true
}

// outPump relays backend→device frames onto the device connection.
func (s *Session) outPump(ctx context.Context, sub backend.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			s.enqueue(frame)
		}
	}
}

// dispatchPump is the backend-side worker: it decodes in-topic frames, feeds
// the shared router, and publishes any response to the out topic.
func (s *Session) dispatchPump(ctx context.Context, sub backend.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			msg, err := ocpp.Decode(frame)
			if err != nil {
				s.logger.Warn("undecodable frame on in topic",
					zap.String("device_id", s.deviceID), zap.Error(err))
				continue
			}
			response, err := s.manager.router.Route(ctx, s.deviceID, msg)
			if err != nil {
				s.logger.Error("router failed",
					zap.String("device_id", s.deviceID),
					zap.String("message_id", msg.UniqueID),
					zap.Error(err))
				continue
			}
			if response == nil {
				continue
			}
			if err := s.manager.bus.Publish(ctx, backend.OutTopic(s.deviceID), response); err != nil {
				s.logger.Error("publish response failed",
					zap.String("device_id", s.deviceID), zap.Error(err))
			}
		}
	}
}

func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				s.logger.Info("device write failed",
					zap.String("device_id", s.deviceID), zap.Error(err))
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

// enqueue hands a frame to the write pump, dropping when the buffer is full.
func (s *Session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	default:
		s.logger.Warn("dropping outgoing frame, send buffer full",
			zap.String("device_id", s.deviceID))
	}
}

func (s *Session) write(messageType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(messageType, data)
}

// close tears the session down exactly once: cancels the workers, cancels the
// device's pending calls, and removes it from the live registry.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.Close()

		canceled := s.manager.pending.CancelDevice(s.deviceID)
		if canceled > 0 {
			s.logger.Info("canceled pending calls on session close",
				zap.String("device_id", s.deviceID), zap.Int("count", canceled))
		}

		s.manager.remove(s)
		s.state.Store(int32(StateClosed))
		s.logger.Info("session closed", zap.String("device_id", s.deviceID))
	})
}
