package rpc

import "fmt"

// JSON-RPC 2.0 standard error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Domain error codes (1xxx band)
// ⭐ SSOT: 비즈니스 에러 코드는 여기서만 정의
const (
	CodeMissingParam  = 1002 // required parameter absent
	CodeNoData        = 1004 // upstream returned no usable data
	CodeInvalidMarket = 1101 // market not in the supported set
	CodeInvalidDate   = 1102 // date not in YYYYMMDD form
	CodeUnknownFactor = 1201 // factor unknown or not computable
	CodeScreenError   = 1301 // DSL parse or saved-screen failure
)

// Error is a typed JSON-RPC error. Domain code raises these; the transport
// passes them through to the wire unchanged. Any other error becomes a
// generic internal error at the transport boundary.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError creates a typed error with a formatted message
func NewError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewErrorWithData creates a typed error carrying extra payload
func NewErrorWithData(code int, data interface{}, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Data: data}
}
