package protocol

// Actions handled by the gateway (OCPP 2.0.1 subset).
const (
	ActionBootNotification        = "BootNotification"
	ActionHeartbeat               = "Heartbeat"
	ActionStatusNotification      = "StatusNotification"
	ActionTransactionEvent        = "TransactionEvent"
	ActionRequestStartTransaction = "RequestStartTransaction"
	ActionRequestStopTransaction  = "RequestStopTransaction"
)

// Registration status values.
const (
	RegistrationAccepted = "Accepted"
)

// RequestStartStop status values.
const (
	RequestStatusAccepted = "Accepted"
)

// TransactionEvent event types.
const (
	EventStarted = "Started"
	EventUpdated = "Updated"
	EventEnded   = "Ended"
)

// IdToken types (subset).
const (
	IDTokenISO14443 = "ISO14443"
)
