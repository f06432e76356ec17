package command

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargebridge/internal/backend"
	"chargebridge/internal/ocpp"
	"chargebridge/internal/ocpp/protocol"
	"chargebridge/internal/pending"
)

// ErrNoSession is returned when a command targets a device without an active
// session. Not retryable until the device reconnects.
var ErrNoSession = errors.New("command: no active session for device")

// ActiveChecker answers whether a device currently has an active session.
type ActiveChecker interface {
	IsActive(deviceID string) bool
}

// Ingress issues new Calls toward devices through the backend out channel and
// tracks them in the pending-call table.
type Ingress struct {
	sessions       ActiveChecker
	pending        *pending.Table
	bus            backend.Bus
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewIngress wires the command entry point.
func NewIngress(sessions ActiveChecker, table *pending.Table, bus backend.Bus, defaultTimeout time.Duration, logger *zap.Logger) *Ingress {
	return &Ingress{
		sessions:       sessions,
		pending:        table,
		bus:            bus,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// IssueCall sends an action to the device and returns the pending entry whose
// Done channel resolves with the outcome, plus the generated message id. It
// fails fast, registering nothing, when the device has no active session.
func (i *Ingress) IssueCall(ctx context.Context, deviceID, action string, payload interface{}, timeout time.Duration) (*pending.Entry, string, error) {
	if !i.sessions.IsActive(deviceID) {
		return nil, "", ErrNoSession
	}
	if timeout <= 0 {
		timeout = i.defaultTimeout
	}

	messageID := uuid.NewString()
	frame, err := ocpp.BuildCall(messageID, action, payload)
	if err != nil {
		return nil, "", err
	}

	entry, err := i.pending.Register(deviceID, messageID, action, timeout)
	if err != nil {
		return nil, "", err
	}

	if err := i.bus.Publish(ctx, backend.OutTopic(deviceID), frame); err != nil {
		i.pending.Resolve(deviceID, messageID, pending.Outcome{
			Kind:             pending.OutcomeCanceled,
			ErrorDescription: "publish failed",
		})
		return nil, "", err
	}

	i.logger.Info("command issued",
		zap.String("device_id", deviceID),
		zap.String("action", action),
		zap.String("message_id", messageID))
	return entry, messageID, nil
}

// StartRequest carries the parameters of a remote start.
type StartRequest struct {
	DeviceID string
	IDTag    string
	EvseID   int
	Timeout  time.Duration
}

// RequestStart issues a RequestStartTransaction Call. A missing IDTag gets a
// generated one; EvseID defaults to 1. Returns the pending entry, the message
// id, and the generated remoteStartId used to correlate the eventual Started
// event.
func (i *Ingress) RequestStart(ctx context.Context, req StartRequest) (*pending.Entry, string, int, error) {
	if req.IDTag == "" {
		req.IDTag = uuid.NewString()
	}
	if req.EvseID <= 0 {
		req.EvseID = 1
	}
	remoteStartID := int(uuid.New().ID() & 0x7FFFFFFF)

	payload := protocol.RequestStartTransactionRequest{
		IDToken: protocol.IDToken{
			IDToken: req.IDTag,
			Type:    protocol.IDTokenISO14443,
		},
		EvseID:        req.EvseID,
		RemoteStartID: remoteStartID,
	}

	entry, messageID, err := i.IssueCall(ctx, req.DeviceID, protocol.ActionRequestStartTransaction, payload, req.Timeout)
	if err != nil {
		return nil, "", 0, err
	}
	return entry, messageID, remoteStartID, nil
}

// RequestStop issues a RequestStopTransaction Call for the transaction.
func (i *Ingress) RequestStop(ctx context.Context, deviceID, transactionID string, timeout time.Duration) (*pending.Entry, string, error) {
	payload := protocol.RequestStopTransactionRequest{TransactionID: transactionID}
	return i.IssueCall(ctx, deviceID, protocol.ActionRequestStopTransaction, payload, timeout)
}

// OutcomeAccepted reports whether a resolved outcome is a CallResult whose
// status field is Accepted.
func OutcomeAccepted(out pending.Outcome) bool {
	if out.Kind != pending.OutcomeResult {
		return false
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(out.Payload, &body); err != nil {
		return false
	}
	return body.Status == protocol.RequestStatusAccepted
}
