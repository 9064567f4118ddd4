package apns

import (
	"errors"
	"time"
)

// APNS and Feedback server addresses.
const (
	ServerApns            = "gateway.push.apple.com:2195"
	ServerApnsSandbox     = "gateway.sandbox.push.apple.com:2195"
	ServerFeedback        = "feedback.push.apple.com:2196"
	ServerFeedbackSandbox = "feedback.sandbox.push.apple.com:2196"
	ServerApnsLocal       = "localhost:2195"
	ServerFeedbackLocal   = "localhost:2196"
)

// Timeouts and delays used by default.
var (
	// TimeoutConnect limits the TCP and TLS handshake with the server.
	TimeoutConnect = 30 * time.Second
	// DefaultTimeout is how long a completely written notification waits for
	// an error response before it is considered delivered. The same value
	// bounds the idle wait of the feedback reader.
	DefaultTimeout = time.Second
	// DurationReconnect is the default delay between connection attempts.
	DurationReconnect = 10 * time.Second
	// ReconnectAttempts is the default number of connection attempts.
	ReconnectAttempts = 3
	// DefaultExpiration is used for notifications without an expiry.
	DefaultExpiration = 24 * time.Hour
)

// MaxPayloadSize is the maximum allowed length of the encoded payload.
var MaxPayloadSize = 256

// Errors returned to the caller of Send. None of them involve the network.
var (
	ErrPayloadTooLarge = errors.New("payload is too large")
	ErrInvalidToken    = errors.New("invalid device token")
	ErrNoTokens        = errors.New("no device tokens")
)

// ErrServiceClosed is returned when sending through a closed manager.
var ErrServiceClosed = errors.New("service is closed")

// ErrNoCertificate is returned by configurations without a client certificate.
var ErrNoCertificate = errors.New("no client certificate")

// ErrConfigNil is returned when unmarshaling into a nil configuration.
var ErrConfigNil = errors.New("Config: UnmarshalJSON on nil pointer")
