package response

import "net/http"

// Kind classifies a failure per the error taxonomy: client errors surface
// to the caller as-is, transient infrastructure errors are recovered
// locally and never fail the business operation, fatal errors abort it.
type Kind int

const (
	KindClient Kind = iota
	KindTransient
	KindFatal
)

// Response codes carried in the envelope.
const (
	CodeOK          = "OK"
	CodeClientError = "CLIENT_ERROR"
	CodeServerError = "SERVER_ERROR"
)

// Envelope is the success contract the HTTP layer serializes.
type Envelope struct {
	StatusCode   int            `json:"statusCode"`
	ResponseCode string         `json:"responseCode"`
	Message      string         `json:"message"`
	Result       any            `json:"result"`
	Meta         map[string]any `json:"meta"`
}

// Success builds a success envelope. Result defaults to an empty list so
// consumers never see null.
func Success(statusCode int, message string, result any) Envelope {
	if result == nil {
		result = []any{}
	}
	return Envelope{
		StatusCode:   statusCode,
		ResponseCode: CodeOK,
		Message:      message,
		Result:       result,
		Meta:         map[string]any{},
	}
}

// Error is a tagged business failure with the structured fields the HTTP
// layer serializes on the error path.
type Error struct {
	StatusCode   int    `json:"statusCode"`
	ResponseCode string `json:"responseCode"`
	Message      string `json:"message"`
	Data         any    `json:"data"`
	Kind         Kind   `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// ClientError builds a caller-caused failure (not-found, conflict, policy
// violation).
func ClientError(statusCode int, message string) *Error {
	return &Error{
		StatusCode:   statusCode,
		ResponseCode: CodeClientError,
		Message:      message,
		Data:         []any{},
		Kind:         KindClient,
	}
}

// FatalError builds a failure of the primary mutation that must be
// reported to the caller.
func FatalError(message string) *Error {
	return &Error{
		StatusCode:   http.StatusInternalServerError,
		ResponseCode: CodeServerError,
		Message:      message,
		Data:         []any{},
		Kind:         KindFatal,
	}
}
