package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/ocpp"
	"chargebridge/internal/ocpp/protocol"
	"chargebridge/internal/router"
	"chargebridge/internal/shadow"
)

// NewStatusNotificationHandler mirrors connector status into the shadow.
func NewStatusNotificationHandler(sh shadow.Writer, logger *zap.Logger) router.Handler {
	return func(ctx context.Context, deviceID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.DecodePayload[protocol.StatusNotificationRequest](payload)
		if err != nil {
			return nil, &ocpp.CallFault{Code: ocpp.ErrorCodeFormationViolation, Description: "invalid StatusNotification payload"}
		}

		connectorKey := fmt.Sprintf("%d/%d", req.EvseID, req.ConnectorID)
		patch := map[string]interface{}{
			"connectors": map[string]interface{}{
				connectorKey: map[string]interface{}{
					"status":     req.ConnectorStatus,
					"reportedAt": req.Timestamp.UTC().Format(time.RFC3339),
				},
			},
		}
		if err := sh.Merge(ctx, deviceID, patch); err != nil {
			logger.Warn("failed to write connector status shadow",
				zap.String("device_id", deviceID), zap.Error(err))
			return nil, err
		}

		return protocol.StatusNotificationResponse{}, nil
	}
}
