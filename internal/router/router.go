package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/ocpp"
	"chargebridge/internal/pending"
	"chargebridge/internal/shadow"
)

// Handler processes one action payload and returns a response payload, or an
// error: a *ocpp.CallFault for a specific protocol error code, anything else
// surfaces as InternalError.
type Handler func(ctx context.Context, deviceID string, payload json.RawMessage) (interface{}, error)

// Router dispatches decoded envelopes: Calls go to the action's handler,
// responses are correlated against the pending-call table. The handler map is
// fixed at construction; there is no runtime registration.
type Router struct {
	handlers map[string]Handler
	pending  *pending.Table
	shadow   shadow.Writer
	logger   *zap.Logger
	now      func() time.Time
}

// New returns a router over a closed action→handler mapping.
func New(handlers map[string]Handler, table *pending.Table, sh shadow.Writer, logger *zap.Logger) *Router {
	return &Router{
		handlers: handlers,
		pending:  table,
		shadow:   sh,
		logger:   logger,
		now:      time.Now,
	}
}

// Route processes one envelope for a device and returns the frame to send
// back, or nil when no response is due (responses to responses never exist).
func (r *Router) Route(ctx context.Context, deviceID string, msg *ocpp.Message) ([]byte, error) {
	switch msg.Type {
	case ocpp.MessageTypeCallResult:
		r.resolveResponse(ctx, deviceID, msg, pending.Outcome{
			Kind:    pending.OutcomeResult,
			Payload: msg.Payload,
		})
		return nil, nil
	case ocpp.MessageTypeCallError:
		r.resolveResponse(ctx, deviceID, msg, pending.Outcome{
			Kind:             pending.OutcomeError,
			ErrorCode:        msg.ErrorCode,
			ErrorDescription: msg.ErrorDescription,
			Details:          msg.ErrorDetails,
		})
		return nil, nil
	case ocpp.MessageTypeCall:
		return r.dispatchCall(ctx, deviceID, msg)
	default:
		return nil, fmt.Errorf("router: unroutable message type %d", msg.Type)
	}
}

func (r *Router) resolveResponse(ctx context.Context, deviceID string, msg *ocpp.Message, out pending.Outcome) {
	if !r.pending.Resolve(deviceID, msg.UniqueID, out) {
		r.logger.Warn("orphan response discarded",
			zap.String("device_id", deviceID),
			zap.String("message_id", msg.UniqueID),
			zap.String("outcome", out.Kind.String()))
		return
	}

	r.logger.Info("pending call resolved",
		zap.String("device_id", deviceID),
		zap.String("message_id", msg.UniqueID),
		zap.String("outcome", out.Kind.String()))

	if msg.Type == ocpp.MessageTypeCallResult {
		r.recordCallResult(ctx, deviceID, msg)
	}
}

// recordCallResult mirrors the device's answer into the shadow so operators
// can see the last remote command outcome.
func (r *Router) recordCallResult(ctx context.Context, deviceID string, msg *ocpp.Message) {
	var payload interface{}
	if len(msg.Payload) > 0 {
		_ = json.Unmarshal(msg.Payload, &payload)
	}
	patch := map[string]interface{}{
		"lastCallResult": map[string]interface{}{
			"messageId":  msg.UniqueID,
			"receivedAt": r.now().UTC().Format(time.RFC3339),
			"payload":    payload,
		},
	}
	if err := r.shadow.Merge(ctx, deviceID, patch); err != nil {
		r.logger.Error("shadow write for call result failed",
			zap.String("device_id", deviceID), zap.Error(err))
	}
}

func (r *Router) dispatchCall(ctx context.Context, deviceID string, msg *ocpp.Message) ([]byte, error) {
	handler, ok := r.handlers[msg.Action]
	if !ok {
		r.logger.Warn("no handler for action",
			zap.String("device_id", deviceID), zap.String("action", msg.Action))
		return ocpp.BuildCallError(msg.UniqueID, ocpp.ErrorCodeNotImplemented,
			fmt.Sprintf("action %s is not supported", msg.Action), nil)
	}

	result, err := r.invoke(ctx, deviceID, handler, msg)
	if err != nil {
		var fault *ocpp.CallFault
		if errors.As(err, &fault) {
			return ocpp.BuildCallError(msg.UniqueID, fault.Code, fault.Description, nil)
		}
		r.logger.Error("handler failed",
			zap.String("device_id", deviceID),
			zap.String("action", msg.Action),
			zap.Error(err))
		return ocpp.BuildCallError(msg.UniqueID, ocpp.ErrorCodeInternalError, "internal error", nil)
	}

	return ocpp.BuildCallResult(msg.UniqueID, result)
}

// invoke runs the handler with panic containment so one misbehaving action
// cannot take the session down.
func (r *Router) invoke(ctx context.Context, deviceID string, handler Handler, msg *ocpp.Message) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler for %s panicked: %v", msg.Action, rec)
		}
	}()
	return handler(ctx, deviceID, msg.Payload)
}
