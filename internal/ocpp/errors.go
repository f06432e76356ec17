package ocpp

import "fmt"

// OCPP-J error codes emitted by the gateway.
const (
	ErrorCodeFormationViolation = "FormationViolation"
	ErrorCodeNotImplemented     = "NotImplemented"
	ErrorCodeInternalError      = "InternalError"
)

// FormationError reports a malformed frame. MessageID is set when the frame
// parsed far enough to recover the id, allowing a CallError response; an empty
// MessageID means the frame must be dropped.
type FormationError struct {
	MessageID string
	Reason    string
}

func (e *FormationError) Error() string {
	return fmt.Sprintf("ocpp: malformed frame: %s", e.Reason)
}

// CallFault is returned by handlers that want a specific CALLERROR code on the
// wire instead of the generic InternalError.
type CallFault struct {
	Code        string
	Description string
}

func (e *CallFault) Error() string {
	return fmt.Sprintf("ocpp: %s: %s", e.Code, e.Description)
}
