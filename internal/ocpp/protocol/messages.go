package protocol

import "time"

// ChargingStation identity reported in BootNotification.
type ChargingStation struct {
	Model           string `json:"model"`
	VendorName      string `json:"vendorName"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

// BootNotificationRequest minimal subset.
type BootNotificationRequest struct {
	ChargingStation ChargingStation `json:"chargingStation"`
	Reason          string          `json:"reason"`
}

// BootNotificationResponse acknowledges registration.
type BootNotificationResponse struct {
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
	Status      string    `json:"status"`
}

// HeartbeatResponse carries the central system time.
type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

// StatusNotificationRequest payload.
type StatusNotificationRequest struct {
	Timestamp       time.Time `json:"timestamp"`
	ConnectorStatus string    `json:"connectorStatus"`
	EvseID          int       `json:"evseId"`
	ConnectorID     int       `json:"connectorId"`
}

// StatusNotificationResponse is an empty ack.
type StatusNotificationResponse struct{}

// IDToken authorization credential.
type IDToken struct {
	IDToken string `json:"idToken"`
	Type    string `json:"type"`
}

// TransactionInfo identifies the transaction within a TransactionEvent.
type TransactionInfo struct {
	TransactionID string `json:"transactionId"`
	ChargingState string `json:"chargingState,omitempty"`
	RemoteStartID int    `json:"remoteStartId,omitempty"`
}

// EVSE identifies the charging outlet.
type EVSE struct {
	ID          int `json:"id"`
	ConnectorID int `json:"connectorId,omitempty"`
}

// TransactionEventRequest payload.
type TransactionEventRequest struct {
	EventType       string          `json:"eventType"`
	Timestamp       time.Time       `json:"timestamp"`
	TriggerReason   string          `json:"triggerReason,omitempty"`
	SeqNo           int             `json:"seqNo"`
	TransactionInfo TransactionInfo `json:"transactionInfo"`
	Evse            *EVSE           `json:"evse,omitempty"`
	IDToken         *IDToken        `json:"idToken,omitempty"`
}

// TransactionEventResponse has no required fields in 2.0.1.
type TransactionEventResponse struct{}

// RequestStartTransactionRequest is sent to the device to start charging.
type RequestStartTransactionRequest struct {
	IDToken       IDToken `json:"idToken"`
	EvseID        int     `json:"evseId"`
	RemoteStartID int     `json:"remoteStartId"`
}

// RequestStartTransactionResponse from the device.
type RequestStartTransactionResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
}

// RequestStopTransactionRequest is sent to the device to stop charging.
type RequestStopTransactionRequest struct {
	TransactionID string `json:"transactionId"`
}

// RequestStopTransactionResponse from the device.
type RequestStopTransactionResponse struct {
	Status string `json:"status"`
}
