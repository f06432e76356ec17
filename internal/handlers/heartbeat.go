package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"chargebridge/internal/ocpp/protocol"
	"chargebridge/internal/router"
	"chargebridge/internal/shadow"
)

// NewHeartbeatHandler returns an ack with the current time and records the
// heartbeat in the shadow.
func NewHeartbeatHandler(sh shadow.Writer, logger *zap.Logger) router.Handler {
	return func(ctx context.Context, deviceID string, payload json.RawMessage) (interface{}, error) {
		_ = payload

		now := time.Now().UTC()
		patch := map[string]interface{}{
			"lastHeartbeatAt": now.Format(time.RFC3339),
		}
		if err := sh.Merge(ctx, deviceID, patch); err != nil {
			logger.Warn("failed to record heartbeat",
				zap.String("device_id", deviceID), zap.Error(err))
		}

		return protocol.HeartbeatResponse{
			CurrentTime: now,
		}, nil
	}
}
