package types

import (
	"errors"
	"net"
	"os"
	"strings"
)

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// Error classes. Callers match with errors.Is against these sentinels.
var AuthFailureError = &Error{
	Message: "provider rejected the token",
	Code:    "auth_failure",
}

var RateLimitedError = &Error{
	Message: "too_many_requests",
	Code:    "rate_limited",
}

var TransportTimeoutError = &Error{
	Message: "transport timeout",
	Code:    "transport_timeout",
}

var TransportError = &Error{
	Message: "transport error",
	Code:    "transport_error",
}

var ServerError = &Error{
	Message: "provider server error",
	Code:    "server_error",
}

var InfringingFileError = &Error{
	Message: "infringing_file",
	Code:    "infringing_file",
}

// Classify maps an HTTP status and response body to an error class.
// A nil return means success.
func Classify(statusCode int, body string) *Error {
	if strings.Contains(body, "infringing_file") {
		return &Error{Message: bodyMessage(body, "infringing_file"), Code: InfringingFileError.Code}
	}
	switch {
	case statusCode >= 200 && statusCode <= 299:
		return nil
	case statusCode == 401 || statusCode == 403:
		return &Error{Message: bodyMessage(body, AuthFailureError.Message), Code: AuthFailureError.Code}
	case statusCode == 429:
		return &Error{Message: bodyMessage(body, RateLimitedError.Message), Code: RateLimitedError.Code}
	case statusCode >= 500:
		return &Error{Message: bodyMessage(body, ServerError.Message), Code: ServerError.Code}
	default:
		return &Error{Message: bodyMessage(body, "provider request failed"), Code: "api_error"}
	}
}

// ClassifyTransport maps a client-side error (no HTTP response) to a
// transport class.
func ClassifyTransport(err error) *Error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Message: err.Error(), Code: TransportTimeoutError.Code}
	}
	if os.IsTimeout(err) {
		return &Error{Message: err.Error(), Code: TransportTimeoutError.Code}
	}
	return &Error{Message: err.Error(), Code: TransportError.Code}
}

func bodyMessage(body, fallback string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return fallback
	}
	if len(body) > 300 {
		body = body[:300]
	}
	return body
}
