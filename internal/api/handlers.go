package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargebridge/internal/command"
	"chargebridge/internal/pending"
	"chargebridge/internal/session"
	"chargebridge/internal/transaction"
)

// CommandHandlers exposes the synchronous command entry points.
type CommandHandlers struct {
	ingress  *command.Ingress
	machine  *transaction.Machine
	sessions *session.Manager
	logger   *zap.Logger
}

// NewCommandHandlers wires the command API.
func NewCommandHandlers(ingress *command.Ingress, machine *transaction.Machine, sessions *session.Manager, logger *zap.Logger) *CommandHandlers {
	return &CommandHandlers{
		ingress:  ingress,
		machine:  machine,
		sessions: sessions,
		logger:   logger,
	}
}

type startCommandRequest struct {
	ChargePointID  string `json:"chargePointId"`
	IDTag          string `json:"idTag"`
	EvseID         int    `json:"evseId"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type stopCommandRequest struct {
	ChargePointID  string `json:"chargePointId"`
	TransactionID  string `json:"transactionId"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// Start issues a RequestStartTransaction toward the device and acknowledges
// with the generated message id.
func (h *CommandHandlers) Start(w http.ResponseWriter, r *http.Request) {
	var req startCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChargePointID == "" {
		writeError(w, http.StatusBadRequest, "chargePointId is required")
		return
	}
	if req.IDTag == "" {
		req.IDTag = uuid.NewString()
	}
	if req.EvseID <= 0 {
		req.EvseID = 1
	}

	entry, messageID, remoteStartID, err := h.ingress.RequestStart(r.Context(), command.StartRequest{
		DeviceID: req.ChargePointID,
		IDTag:    req.IDTag,
		EvseID:   req.EvseID,
		Timeout:  time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		h.writeCommandError(w, req.ChargePointID, err)
		return
	}

	h.machine.OnStartRequested(r.Context(), req.ChargePointID, messageID, req.EvseID, req.IDTag, remoteStartID)
	go h.awaitStartResult(req.ChargePointID, messageID, entry)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "RequestStartTransaction command sent successfully",
		"messageId":     messageID,
		"chargePointId": req.ChargePointID,
	})
}

// Stop issues a RequestStopTransaction toward the device.
func (h *CommandHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	var req stopCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChargePointID == "" || req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "chargePointId and transactionId are required")
		return
	}

	entry, messageID, err := h.ingress.RequestStop(r.Context(), req.ChargePointID, req.TransactionID,
		time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		h.writeCommandError(w, req.ChargePointID, err)
		return
	}

	h.machine.OnStopRequested(req.ChargePointID, req.TransactionID)
	go h.awaitStopResult(req.ChargePointID, req.TransactionID, entry)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "RequestStopTransaction command sent successfully",
		"messageId":     messageID,
		"chargePointId": req.ChargePointID,
		"transactionId": req.TransactionID,
	})
}

// Devices lists live sessions.
func (h *CommandHandlers) Devices(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": h.sessions.Snapshot(),
	})
}

func (h *CommandHandlers) writeCommandError(w http.ResponseWriter, deviceID string, err error) {
	if errors.Is(err, command.ErrNoSession) {
		writeError(w, http.StatusConflict, "no active session for "+deviceID)
		return
	}
	h.logger.Error("command dispatch failed", zap.String("device_id", deviceID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to send command")
}

// awaitStartResult feeds the remote start outcome into the transaction
// machine. The pending table guarantees exactly one outcome per entry, so the
// await always terminates.
func (h *CommandHandlers) awaitStartResult(deviceID, messageID string, entry *pending.Entry) {
	out := <-entry.Done()
	ctx := context.Background()
	switch out.Kind {
	case pending.OutcomeResult, pending.OutcomeError:
		h.machine.OnStartResult(ctx, deviceID, messageID, command.OutcomeAccepted(out))
	default:
		h.logger.Warn("remote start unresolved",
			zap.String("device_id", deviceID),
			zap.String("message_id", messageID),
			zap.String("outcome", out.Kind.String()))
	}
}

func (h *CommandHandlers) awaitStopResult(deviceID, transactionID string, entry *pending.Entry) {
	out := <-entry.Done()
	switch out.Kind {
	case pending.OutcomeResult, pending.OutcomeError:
		h.machine.OnStopResult(deviceID, transactionID, command.OutcomeAccepted(out))
	default:
		h.logger.Warn("remote stop unresolved",
			zap.String("device_id", deviceID),
			zap.String("transaction_id", transactionID),
			zap.String("outcome", out.Kind.String()))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
