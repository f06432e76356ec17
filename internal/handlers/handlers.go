package handlers

import (
	"go.uber.org/zap"

	"chargebridge/internal/ocpp/protocol"
	"chargebridge/internal/router"
	"chargebridge/internal/shadow"
	"chargebridge/internal/transaction"
)

// NewActionMap builds the closed action→handler mapping the router dispatches
// over. Adding an action means adding it here; there is no runtime
// registration.
func NewActionMap(sh shadow.Writer, machine *transaction.Machine, logger *zap.Logger) map[string]router.Handler {
	return map[string]router.Handler{
		protocol.ActionBootNotification:        NewBootNotificationHandler(sh, logger),
		protocol.ActionHeartbeat:               NewHeartbeatHandler(sh, logger),
		protocol.ActionStatusNotification:      NewStatusNotificationHandler(sh, logger),
		protocol.ActionTransactionEvent:        NewTransactionEventHandler(machine),
		protocol.ActionRequestStartTransaction: NewRequestStartTransactionHandler(sh, logger),
		protocol.ActionRequestStopTransaction:  NewRequestStopTransactionHandler(sh, logger),
	}
}
