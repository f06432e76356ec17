package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/ocpp"
	"chargebridge/internal/ocpp/protocol"
	"chargebridge/internal/router"
	"chargebridge/internal/shadow"
)

// NewRequestStopTransactionHandler acknowledges a stop request routed as a
// plain envelope, mirroring NewRequestStartTransactionHandler.
func NewRequestStopTransactionHandler(sh shadow.Writer, logger *zap.Logger) router.Handler {
	return func(ctx context.Context, deviceID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.DecodePayload[protocol.RequestStopTransactionRequest](payload)
		if err != nil {
			return nil, &ocpp.CallFault{Code: ocpp.ErrorCodeFormationViolation, Description: "invalid RequestStopTransaction payload"}
		}

		patch := map[string]interface{}{
			"lastRemoteStopRequest": map[string]interface{}{
				"transactionId": req.TransactionID,
				"receivedAt":    time.Now().UTC().Format(time.RFC3339),
			},
		}
		if err := sh.Merge(ctx, deviceID, patch); err != nil {
			logger.Warn("failed to record remote stop request",
				zap.String("device_id", deviceID), zap.Error(err))
		}

		return protocol.RequestStopTransactionResponse{Status: protocol.RequestStatusAccepted}, nil
	}
}
