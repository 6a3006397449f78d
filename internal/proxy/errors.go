package proxy

import "errors"

var (
	ErrQueueFull        = errors.New("frame queue full")
	ErrRelayNotOpen     = errors.New("relay link not open")
	ErrConnectionClosed = errors.New("connection closed")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrMalformedFrame   = errors.New("malformed frame")
)

// Close reasons, also used as metric labels.
const (
	ReasonClientClosed  = "client closed"
	ReasonRelayClosed   = "relay closed"
	ReasonAuthFailed    = "auth failed"
	ReasonAuthTimeout   = "auth timeout"
	ReasonPromptFailed  = "payment prompt failed"
	ReasonPaymentExpiry = "payment expired"
	ReasonQueueOverflow = "queue overflow"
	ReasonShutdown      = "shutdown"
)
