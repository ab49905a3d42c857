// Package errors provides standardized error codes for the chat client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (transport, remote, room, ...)
//   - error: The specific error type within that domain
//
// Codes are stable so a UI layer can branch on them. Human-readable messages are
// carried alongside; for remote failures the message is the server's own reason.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Transport domain - websocket connection and outbound frames
	CodeTransportNotConnected = "transport.not_connected" // Send attempted while not connected
	CodeTransportEncodeFailed = "transport.encode_failed" // Outbound payload could not be serialized
	CodeTransportWriteFailed  = "transport.write_failed"  // Websocket write failed
	CodeTransportRateLimited  = "transport.rate_limited"  // Outbound rate limit exceeded
	CodeTransportDialFailed   = "transport.dial_failed"   // Connection could not be established

	// Decode domain - inbound frames
	CodeDecodeInvalidFrame = "decode.invalid_frame" // Frame is not valid JSON
	CodeDecodeInvalidEvent = "decode.invalid_event" // Known event type with malformed payload

	// Handler domain - event handler faults
	CodeHandlerFailed   = "handler.failed"   // Handler returned an error
	CodeHandlerPanicked = "handler.panicked" // Handler panicked

	// Remote domain - REST collaborator
	CodeRemoteFailed      = "remote.failed"       // Server rejected the request
	CodeRemoteUnavailable = "remote.unavailable"  // Request never got a response
	CodeRemoteBadResponse = "remote.bad_response" // Response body could not be decoded

	// Room domain - directory membership and focus
	CodeRoomNotMember = "room.not_member" // Room is not in the directory
	CodeRoomNoFocus   = "room.no_focus"   // Operation needs a focused room
	CodeRoomNotFound  = "room.not_found"  // Room id unknown

	// Message domain - outbound validation
	CodeMessageInvalid = "message.invalid" // Outbound message rejected before sending

	// Auth domain
	CodeAuthRequired = "auth.required" // No credential available

	// Storage domain - credential store
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Config domain
	CodeConfigInvalid = "config.invalid" // Configuration value out of range

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "remote.failed")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for turning errors into caller-facing failures.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// AuthRequired creates an "auth.required" error.
func AuthRequired() *CodedError {
	return New(CodeAuthRequired, "no auth credential available")
}

// NotConnected creates a "transport.not_connected" error.
func NotConnected() *CodedError {
	return New(CodeTransportNotConnected, "websocket is not connected")
}

// InvalidFrame creates a "decode.invalid_frame" error.
func InvalidFrame(cause error) *CodedError {
	return Wrap(CodeDecodeInvalidFrame, "inbound frame is not valid JSON", cause)
}

// InvalidEvent creates a "decode.invalid_event" error.
func InvalidEvent(eventType string, cause error) *CodedError {
	return Wrap(CodeDecodeInvalidEvent, fmt.Sprintf("malformed %q event payload", eventType), cause)
}

// HandlerPanicked creates a "handler.panicked" error from a recovered value.
func HandlerPanicked(index int, recovered any) *CodedError {
	return New(CodeHandlerPanicked, fmt.Sprintf("handler %d panicked: %v", index, recovered))
}

// RemoteFailed creates a "remote.failed" error carrying the server's reason.
func RemoteFailed(reason string) *CodedError {
	return New(CodeRemoteFailed, reason)
}

// RemoteUnavailable creates a "remote.unavailable" error.
func RemoteUnavailable(operation string, cause error) *CodedError {
	return Wrap(CodeRemoteUnavailable, fmt.Sprintf("%s: server unreachable", operation), cause)
}

// RemoteBadResponse creates a "remote.bad_response" error.
func RemoteBadResponse(operation string, cause error) *CodedError {
	return Wrap(CodeRemoteBadResponse, fmt.Sprintf("%s: unexpected response body", operation), cause)
}

// NotMember creates a "room.not_member" error.
func NotMember(roomID int64) *CodedError {
	return New(CodeRoomNotMember, fmt.Sprintf("room %d is not in the directory", roomID))
}

// NoFocus creates a "room.no_focus" error.
func NoFocus() *CodedError {
	return New(CodeRoomNoFocus, "no chat room selected")
}

// InvalidMessage creates a "message.invalid" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeMessageInvalid, reason)
}

// InvalidConfig creates a "config.invalid" error.
func InvalidConfig(field, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("%s: %s", field, reason))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
