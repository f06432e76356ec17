package ocpp

import (
	"encoding/json"
	"fmt"
)

// MessageType values as per the OCPP-J framing spec.
const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Message represents a decoded OCPP frame. Exactly one of the three variants is
// populated depending on Type: Call carries Action+Payload, CallResult carries
// Payload, CallError carries ErrorCode/ErrorDescription/ErrorDetails.
type Message struct {
	Type             int
	UniqueID         string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// Decode parses a raw frame into a Message. Malformed frames return a
// *FormationError carrying any message id that could still be recovered, so
// callers can answer with a CallError. Unknown actions and error codes are not
// a decode concern.
func Decode(data []byte) (*Message, error) {
	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return nil, &FormationError{Reason: "frame is not a JSON array"}
	}
	if len(array) < 2 {
		return nil, &FormationError{Reason: "frame has fewer than two elements"}
	}

	// The message id is recovered best-effort before arity checks so that a
	// CallError can reference it.
	var uniqueID string
	idOK := json.Unmarshal(array[1], &uniqueID) == nil && uniqueID != ""
	recovered := ""
	if idOK {
		recovered = uniqueID
	}

	var msgType int
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return nil, &FormationError{MessageID: recovered, Reason: "message type is not an integer"}
	}
	if !idOK {
		return nil, &FormationError{Reason: "message id is not a string"}
	}

	msg := &Message{Type: msgType, UniqueID: uniqueID}

	switch msgType {
	case MessageTypeCall:
		if len(array) != 4 {
			return nil, &FormationError{MessageID: recovered, Reason: fmt.Sprintf("CALL frame has %d elements, want 4", len(array))}
		}
		if err := json.Unmarshal(array[2], &msg.Action); err != nil {
			return nil, &FormationError{MessageID: recovered, Reason: "CALL action is not a string"}
		}
		msg.Payload = array[3]
	case MessageTypeCallResult:
		if len(array) != 3 {
			return nil, &FormationError{MessageID: recovered, Reason: fmt.Sprintf("CALLRESULT frame has %d elements, want 3", len(array))}
		}
		msg.Payload = array[2]
	case MessageTypeCallError:
		if len(array) != 5 {
			return nil, &FormationError{MessageID: recovered, Reason: fmt.Sprintf("CALLERROR frame has %d elements, want 5", len(array))}
		}
		if err := json.Unmarshal(array[2], &msg.ErrorCode); err != nil {
			return nil, &FormationError{MessageID: recovered, Reason: "CALLERROR code is not a string"}
		}
		if err := json.Unmarshal(array[3], &msg.ErrorDescription); err != nil {
			return nil, &FormationError{MessageID: recovered, Reason: "CALLERROR description is not a string"}
		}
		msg.ErrorDetails = array[4]
	default:
		return nil, &FormationError{MessageID: recovered, Reason: fmt.Sprintf("unknown message type %d", msgType)}
	}

	return msg, nil
}

// Encode serializes a Message back to its wire form.
func Encode(msg *Message) ([]byte, error) {
	switch msg.Type {
	case MessageTypeCall:
		payload := msg.Payload
		if payload == nil {
			payload = json.RawMessage(`{}`)
		}
		return json.Marshal([]interface{}{MessageTypeCall, msg.UniqueID, msg.Action, payload})
	case MessageTypeCallResult:
		payload := msg.Payload
		if payload == nil {
			payload = json.RawMessage(`{}`)
		}
		return json.Marshal([]interface{}{MessageTypeCallResult, msg.UniqueID, payload})
	case MessageTypeCallError:
		details := msg.ErrorDetails
		if details == nil {
			details = json.RawMessage(`{}`)
		}
		return json.Marshal([]interface{}{MessageTypeCallError, msg.UniqueID, msg.ErrorCode, msg.ErrorDescription, details})
	default:
		return nil, fmt.Errorf("ocpp: cannot encode message type %d", msg.Type)
	}
}

// BuildCall builds a CALL frame with the given payload value.
func BuildCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]interface{}{MessageTypeCall, uniqueID, action, json.RawMessage(body)})
}

// BuildCallResult builds a CALLRESULT frame.
func BuildCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]interface{}{MessageTypeCallResult, uniqueID, json.RawMessage(body)})
}

// BuildCallError builds a CALLERROR frame. A nil details map encodes as {}.
func BuildCallError(uniqueID, code, description string, details map[string]interface{}) ([]byte, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{MessageTypeCallError, uniqueID, code, description, details})
}

// DecodePayload is a convenience helper for handlers decoding typed payloads.
func DecodePayload[T any](payload json.RawMessage) (T, error) {
	var target T
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		return zero, err
	}
	return target, nil
}
