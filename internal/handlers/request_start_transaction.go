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

// NewRequestStartTransactionHandler acknowledges a start request that arrived
// as a Call through the backend channel and records it in the shadow. The
// usual path for remote starts is the command ingress; this handler keeps the
// processor complete for backends that route the request as a plain envelope.
func NewRequestStartTransactionHandler(sh shadow.Writer, logger *zap.Logger) router.Handler {
	return func(ctx context.Context, deviceID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.DecodePayload[protocol.RequestStartTransactionRequest](payload)
		if err != nil {
			return nil, &ocpp.CallFault{Code: ocpp.ErrorCodeFormationViolation, Description: "invalid RequestStartTransaction payload"}
		}

		patch := map[string]interface{}{
			"lastRemoteStartRequest": map[string]interface{}{
				"idToken":       req.IDToken.IDToken,
				"evseId":        req.EvseID,
				"remoteStartId": req.RemoteStartID,
				"receivedAt":    time.Now().UTC().Format(time.RFC3339),
			},
		}
		if err := sh.Merge(ctx, deviceID, patch); err != nil {
			logger.Warn("failed to record remote start request",
				zap.String("device_id", deviceID), zap.Error(err))
		}

		return protocol.RequestStartTransactionResponse{Status: protocol.RequestStatusAccepted}, nil
	}
}
