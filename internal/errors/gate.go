package errors

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// Gate-specific error constructors

// AuthenticationError is raised when an AUTH event is rejected. The reason
// is logged only; clients never see it.
func AuthenticationError(reason string) *AppError {
	return New(ErrorTypeAuthentication, "AUTH_FAILED", fmt.Sprintf("Authentication failed: %s", reason)).
		WithSeverity(SeverityLow).
		WithUserMessage("Authentication failed.")
}

// AdmissionError is raised when a connection cannot be admitted to publish.
func AdmissionError(pubkey, reason string) *AppError {
	return New(ErrorTypeAuthorization, "ADMISSION_DENIED", fmt.Sprintf("Admission denied: %s", reason)).
		WithSeverity(SeverityLow).
		WithDetails(fmt.Sprintf("pubkey: %s", pubkey)).
		WithUserMessage("Collateral requirement not satisfied.")
}

// ExternalServiceError creates an error for collaborator failures
// (balance lookup, payment prompt, spam classification).
func ExternalServiceError(service, operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR",
		fmt.Sprintf("External service %s failed during %s", service, operation)).
		WithSeverity(SeverityMedium).
		WithUserMessage("An external service is temporarily unavailable. Please try again later.")
}

// WebSocketError creates an error for WebSocket-related issues
func WebSocketError(operation string, cause error) *AppError {
	var code string
	severity := SeverityLow

	switch {
	case websocket.IsCloseError(cause, websocket.CloseNormalClosure):
		code = "WS_NORMAL_CLOSURE"
	case websocket.IsCloseError(cause, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		code = "WS_ABNORMAL_CLOSURE"
	case websocket.IsUnexpectedCloseError(cause, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		code = "WS_UNEXPECTED_CLOSURE"
		severity = SeverityMedium
	default:
		code = "WS_ERROR"
		severity = SeverityMedium
	}

	return Wrap(cause, ErrorTypeNetwork, code, fmt.Sprintf("WebSocket %s failed", operation)).
		WithSeverity(severity).
		WithUserMessage("WebSocket connection error occurred.")
}

// UpstreamError creates an error for failures talking to the upstream relay.
func UpstreamError(relayURL string, cause error) *AppError {
	return Wrap(cause, ErrorTypeNetwork, "UPSTREAM_UNAVAILABLE", "Upstream relay connection failed").
		WithSeverity(SeverityMedium).
		WithDetails(fmt.Sprintf("relay: %s", relayURL)).
		WithUserMessage("The upstream relay is unavailable.")
}

// ConnectionLimitError creates an error when connection limits are exceeded
func ConnectionLimitError(currentCount, maxCount int) *AppError {
	return New(ErrorTypeRateLimit, "CONNECTION_LIMIT_EXCEEDED",
		fmt.Sprintf("Connection limit exceeded: %d/%d", currentCount, maxCount)).
		WithSeverity(SeverityMedium).
		WithUserMessage("Too many active connections. Please try again later.")
}

// RateLimitedError creates an error for a client address over its request rate.
func RateLimitedError(addr string) *AppError {
	return New(ErrorTypeRateLimit, "RATE_LIMITED", "Request rate exceeded").
		WithDetails("addr: "+addr).
		WithSeverity(SeverityLow).
		WithUserMessage("Too many requests. Please slow down.")
}

// WebhookError creates an error for malformed payment webhook requests.
func WebhookError(reason string) *AppError {
	return New(ErrorTypeValidation, "WEBHOOK_INVALID", fmt.Sprintf("Invalid payment webhook: %s", reason)).
		WithSeverity(SeverityLow).
		WithUserMessage("The webhook request is invalid.")
}

// UnauthorizedWebhookError is returned when the webhook secret does not match.
func UnauthorizedWebhookError() *AppError {
	return New(ErrorTypeAuthentication, "WEBHOOK_UNAUTHORIZED", "Payment webhook secret mismatch").
		WithSeverity(SeverityMedium).
		WithUserMessage("Authentication required.")
}

// InternalError creates an internal error
func InternalError(message string, cause error) *AppError {
	return Wrap(cause, ErrorTypeInternal, "INTERNAL_ERROR", message).
		WithSeverity(SeverityHigh).
		WithUserMessage("An internal error occurred. Please try again.")
}
