package types

import "errors"

var (
	ErrAmbiguousAddressing = errors.New("message must carry exactly one of recipientId and groupId")
	ErrAddressingMismatch  = errors.New("message type does not match its addressing mode")
)

// ErrorKind tags an error event so clients can branch on the failure
// category instead of parsing the message text.
type ErrorKind string

const (
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindAuthorization  ErrorKind = "authorization"
	ErrorKindPersistence    ErrorKind = "persistence"
	ErrorKindValidation     ErrorKind = "validation"
)

// ErrorPayload is the body of every outbound error event.
type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
