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

// bootHeartbeatInterval is the interval period we hand to devices, in seconds.
const bootHeartbeatInterval = 10

// NewBootNotificationHandler records the device identity in its shadow and
// accepts the registration.
func NewBootNotificationHandler(sh shadow.Writer, logger *zap.Logger) router.Handler {
	return func(ctx context.Context, deviceID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.DecodePayload[protocol.BootNotificationRequest](payload)
		if err != nil {
			return nil, &ocpp.CallFault{Code: ocpp.ErrorCodeFormationViolation, Description: "invalid BootNotification payload"}
		}

		patch := map[string]interface{}{
			"chargingStation": map[string]interface{}{
				"model":           req.ChargingStation.Model,
				"vendorName":      req.ChargingStation.VendorName,
				"serialNumber":    req.ChargingStation.SerialNumber,
				"firmwareVersion": req.ChargingStation.FirmwareVersion,
			},
			"bootReason": req.Reason,
		}
		if err := sh.Merge(ctx, deviceID, patch); err != nil {
			logger.Error("failed to write boot shadow", zap.String("device_id", deviceID), zap.Error(err))
			return nil, err
		}

		return protocol.BootNotificationResponse{
			CurrentTime: time.Now().UTC(),
			Interval:    bootHeartbeatInterval,
			Status:      protocol.RegistrationAccepted,
		}, nil
	}
}
