package rtvoice

import (
	"errors"
	"fmt"
)

// Common error variables
var (
	// ErrMissingAPIKey is returned when the long-lived secret is not configured.
	// The broker answers every session request with a server fault while it is absent.
	ErrMissingAPIKey = errors.New("rtvoice: missing OPENAI_API_KEY")

	// ErrInvalidConfig is returned when required configuration fields are missing.
	ErrInvalidConfig = errors.New("rtvoice: invalid configuration")

	// ErrRemoteFailure matches any non-success response from the remote service or broker.
	ErrRemoteFailure = errors.New("rtvoice: remote request failed")

	// ErrNoClientToken is returned when a session response carries no client_secret.value.
	ErrNoClientToken = errors.New("rtvoice: no client token from server")

	// ErrPermissionDenied is returned when the capture device refuses access.
	ErrPermissionDenied = errors.New("rtvoice: microphone permission denied")

	// ErrChannelNotOpen is returned when a control message is attempted while the
	// data channel is not open. Nothing is written or queued.
	ErrChannelNotOpen = errors.New("rtvoice: control channel not open")

	// ErrNotConnected is returned by runtime actions outside the connected state.
	ErrNotConnected = errors.New("rtvoice: not connected")

	// ErrAlreadyStarted is returned by Connect once a connect attempt has begun.
	// A failed attempt is terminal; a new client is required to retry.
	ErrAlreadyStarted = errors.New("rtvoice: connect already attempted")

	// ErrClosed is returned when using a client that has been closed.
	ErrClosed = errors.New("rtvoice: client is closed")

	// ErrInvalidEventData is returned when an inbound payload cannot be parsed.
	ErrInvalidEventData = errors.New("rtvoice: invalid event data")
)

// ConfigError represents a configuration validation error.
// It provides detailed information about which configuration field is invalid.
type ConfigError struct {
	Field   string // The configuration field that is invalid
	Value   string // The invalid value (if safe to log)
	Message string // Detailed error message
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("rtvoice: invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("rtvoice: invalid config field %q: %s", e.Field, e.Message)
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// RemoteError is a non-success HTTP response from the remote service (or from the
// broker, seen by the client). Body holds the response body verbatim.
type RemoteError struct {
	Op     string // "create_session", "fetch_token" or "sdp_exchange"
	URL    string // The request URL
	Status int    // The HTTP status code
	Body   []byte // The response body as received
}

func (e *RemoteError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("%s failed: %d: %s", e.Op, e.Status, string(e.Body))
	}
	return fmt.Sprintf("%s failed: %d", e.Op, e.Status)
}

// Is implements error matching for RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteFailure
}

// CaptureError reports a failure to open the capture device.
type CaptureError struct {
	Device string // Device name or path
	Cause  error  // The underlying error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("rtvoice: capture %q: %v", e.Device, e.Cause)
}

// Unwrap returns the underlying error.
func (e *CaptureError) Unwrap() error {
	return e.Cause
}

// SendError represents an error that occurred while sending a control message.
type SendError struct {
	EventType string // The type of message being sent
	Cause     error  // The underlying error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("rtvoice: failed to send %s message: %v", e.EventType, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error {
	return e.Cause
}

// EventError represents an error in processing an inbound control channel payload.
type EventError struct {
	EventType string // The type of event, if it could be determined
	RawData   []byte // The raw payload
	Cause     error  // The underlying parsing error
}

func (e *EventError) Error() string {
	if e.EventType == "" {
		return fmt.Sprintf("rtvoice: failed to process event: %v", e.Cause)
	}
	return fmt.Sprintf("rtvoice: failed to process %s event: %v", e.EventType, e.Cause)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for EventError.
func (e *EventError) Is(target error) bool {
	return target == ErrInvalidEventData
}

// Helper functions for creating specific errors

// NewConfigError creates a new configuration error.
func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewRemoteError creates a new remote failure error.
func NewRemoteError(op, url string, status int, body []byte) *RemoteError {
	return &RemoteError{
		Op:     op,
		URL:    url,
		Status: status,
		Body:   body,
	}
}

// NewCaptureError creates a new capture error.
func NewCaptureError(device string, cause error) *CaptureError {
	return &CaptureError{
		Device: device,
		Cause:  cause,
	}
}

// NewSendError creates a new send error.
func NewSendError(eventType string, cause error) *SendError {
	return &SendError{
		EventType: eventType,
		Cause:     cause,
	}
}

// NewEventError creates a new event processing error.
func NewEventError(eventType string, rawData []byte, cause error) *EventError {
	return &EventError{
		EventType: eventType,
		RawData:   rawData,
		Cause:     cause,
	}
}
