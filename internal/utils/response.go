// internal/utils/response.go
package utils

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"buspirate-host/pkg/buspirate"
)

// Result represents the structured output of one CLI operation
type Result struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	Data        interface{} `json:"data,omitempty"`
	Error       *ResultErr  `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	OperationID string      `json:"operation_id,omitempty"`
}

// ResultErr represents error information
type ResultErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SuccessResult builds a successful result
func SuccessResult(operationID, message string, data interface{}) *Result {
	return &Result{
		Success:     true,
		Message:     message,
		Data:        data,
		Timestamp:   time.Now(),
		OperationID: operationID,
	}
}

// ErrorResult builds a failed result, classifying err
func ErrorResult(operationID, message string, err error) *Result {
	resultErr := &ResultErr{
		Code:    ErrorCode(err),
		Message: message,
	}
	if err != nil {
		resultErr.Details = err.Error()
	}

	return &Result{
		Success:     false,
		Message:     message,
		Error:       resultErr,
		Timestamp:   time.Now(),
		OperationID: operationID,
	}
}

// WriteResult writes r as indented JSON
func WriteResult(w io.Writer, r *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ErrorCode maps a driver error to a stable code
func ErrorCode(err error) string {
	var (
		transportErr *buspirate.TransportError
		framingErr   *buspirate.FramingError
		schemaErr    *buspirate.SchemaError
		deviceErr    *buspirate.DeviceError
		mismatchErr  *buspirate.ProtocolMismatchError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELED"
	case errors.Is(err, buspirate.ErrTimeout):
		return "TIMEOUT"
	case errors.As(err, &transportErr):
		return "TRANSPORT_ERROR"
	case errors.As(err, &framingErr):
		return "FRAMING_ERROR"
	case errors.As(err, &schemaErr):
		return "SCHEMA_ERROR"
	case errors.As(err, &deviceErr):
		return "DEVICE_ERROR"
	case errors.As(err, &mismatchErr):
		return "PROTOCOL_MISMATCH"
	case errors.Is(err, buspirate.ErrNoDataReceived):
		return "NO_DATA"
	case errors.Is(err, buspirate.ErrModeUnavailable):
		return "MODE_UNAVAILABLE"
	case errors.Is(err, buspirate.ErrReadTooLong), errors.Is(err, buspirate.ErrInvalidPin):
		return "BAD_REQUEST"
	default:
		return "UNKNOWN_ERROR"
	}
}
