package a2a

import (
	"errors"
	"fmt"
)

// JSON-RPC 2.0 standard error codes, plus the A2A implementation-defined
// range (-32000 to -32099).
const (
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603

	ErrorCodeTaskNotFound                = -32001
	ErrorCodeTaskNotCancelable            = -32002
	ErrorCodePushNotificationNotSupported = -32003
	ErrorCodeStreamingNotSupported        = -32004
)

// RPCError is a JSON-RPC error object, and also a Go error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("a2a: %d: %s", e.Code, e.Message)
}

func NewInvalidRequestError(msg string) *RPCError {
	return &RPCError{Code: ErrorCodeInvalidRequest, Message: msg}
}

func NewInvalidParamsError(msg string) *RPCError {
	return &RPCError{Code: ErrorCodeInvalidParams, Message: msg}
}

func NewInternalError(msg string) *RPCError {
	return &RPCError{Code: ErrorCodeInternal, Message: msg}
}

func NewTaskNotFoundError(taskID string) *RPCError {
	return &RPCError{Code: ErrorCodeTaskNotFound, Message: fmt.Sprintf("task not found: %s", taskID)}
}

func NewTaskNotCancelableError(taskID string) *RPCError {
	return &RPCError{Code: ErrorCodeTaskNotCancelable, Message: fmt.Sprintf("task cannot be canceled: %s", taskID)}
}

func NewPushNotificationNotSupportedError() *RPCError {
	return &RPCError{Code: ErrorCodePushNotificationNotSupported, Message: "push notifications are not supported by this agent"}
}

func NewStreamingNotSupportedError() *RPCError {
	return &RPCError{Code: ErrorCodeStreamingNotSupported, Message: "streaming is not supported by this agent"}
}

// AsRPCError unwraps err into an *RPCError if it is one (or wraps one),
// otherwise it returns (nil, false).
func AsRPCError(err error) (*RPCError, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
