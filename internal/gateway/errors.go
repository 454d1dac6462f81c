package gateway

import "fmt"

// AuthError reports a missing or invalid credential, detected locally
// before any request is made. The UI reacts by forcing re-login.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return "auth: " + e.Reason
	}
	return "auth error"
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError reports a transport failure or a non-2xx response,
// carrying the status code and any server-provided message. It is
// retryable.
type NetworkError struct {
	Status  int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("network: status %d: %s", e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("network: status %d", e.Status)
	case e.Err != nil:
		return "network: " + e.Err.Error()
	}
	return "network error"
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError reports a local precondition failure before any
// network call (empty message, unknown sending number, bad OAuth state).
// It is shown inline and needs no retry.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// SendFailureReason classifies a failed message send.
type SendFailureReason string

const (
	// SendFailureValidation means the backend rejected the request shape.
	SendFailureValidation SendFailureReason = "validation"
	// SendFailureRejected means the backend accepted the request but the
	// delivery itself was refused.
	SendFailureRejected SendFailureReason = "delivery-rejected"
	// SendFailureNetwork means the request never completed.
	SendFailureNetwork SendFailureReason = "network"
)

// SendError is the structured failure returned by SendMessage.
type SendError struct {
	Reason  SendFailureReason
	Message string
	Err     error
}

func (e *SendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("send failed (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("send failed (%s)", e.Reason)
}

func (e *SendError) Unwrap() error { return e.Err }
