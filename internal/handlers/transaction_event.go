package handlers

import (
	"context"
	"encoding/json"

	"chargebridge/internal/ocpp"
	"chargebridge/internal/ocpp/protocol"
	"chargebridge/internal/router"
	"chargebridge/internal/transaction"
)

// NewTransactionEventHandler feeds lifecycle events into the transaction state
// machine. The machine owns the resulting shadow writes; the handler itself
// touches nothing else.
func NewTransactionEventHandler(machine *transaction.Machine) router.Handler {
	return func(ctx context.Context, deviceID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.DecodePayload[protocol.TransactionEventRequest](payload)
		if err != nil {
			return nil, &ocpp.CallFault{Code: ocpp.ErrorCodeFormationViolation, Description: "invalid TransactionEvent payload"}
		}

		ev := transaction.Event{
			Type:          req.EventType,
			TransactionID: req.TransactionInfo.TransactionID,
			Timestamp:     req.Timestamp,
			RemoteStartID: req.TransactionInfo.RemoteStartID,
		}
		if req.Evse != nil {
			ev.EvseID = req.Evse.ID
		}
		if req.IDToken != nil {
			ev.IDToken = req.IDToken.IDToken
		}

		machine.OnTransactionEvent(ctx, deviceID, ev)

		return protocol.TransactionEventResponse{}, nil
	}
}
