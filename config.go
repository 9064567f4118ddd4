package apns

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mdigger/binapns/retry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Environment selects the pair of push and feedback servers.
type Environment uint8

// Supported environments.
const (
	Development Environment = iota
	Production
	Local
)

// PushAddr returns the address of the push gateway.
func (e Environment) PushAddr() string {
	switch e {
	case Production:
		return ServerApns
	case Local:
		return ServerApnsLocal
	default:
		return ServerApnsSandbox
	}
}

// FeedbackAddr returns the address of the feedback service.
func (e Environment) FeedbackAddr() string {
	switch e {
	case Production:
		return ServerFeedback
	case Local:
		return ServerFeedbackLocal
	default:
		return ServerFeedbackSandbox
	}
}

// String returns the environment name.
func (e Environment) String() string {
	switch e {
	case Production:
		return "production"
	case Local:
		return "local"
	default:
		return "development"
	}
}

// ParseEnvironment returns the environment with the given name.
func ParseEnvironment(name string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "development", "sandbox":
		return Development, nil
	case "production":
		return Production, nil
	case "local":
		return Local, nil
	}
	return Development, fmt.Errorf("unknown environment %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (e Environment) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Environment) UnmarshalText(text []byte) error {
	env, err := ParseEnvironment(string(text))
	if err != nil {
		return err
	}
	*e = env
	return nil
}

// Config describes the connection to the push and feedback services.
type Config struct {
	Environment Environment     // servers to connect to
	Certificate tls.Certificate // client certificate with private key
	// Timeout is how long a completely written notification waits for an
	// error response. It also ends feedback collection when no record
	// arrives for that long.
	Timeout time.Duration
	// Retry controls reconnection of the push connection.
	Retry retry.Policy
	// Logger receives connection events. Nil disables logging.
	Logger *zap.Logger
	// Metrics collects counters of the push connection. Nil disables them.
	Metrics *Metrics
	// Tracer creates a span for every Send. Nil means the tracer of the
	// global OpenTelemetry provider.
	Tracer trace.Tracer
	// DialFunc replaces the TLS dialer, mostly for tests.
	DialFunc func(ctx context.Context, addr string) (net.Conn, error)
}

// DefaultConfig returns a configuration with default timeouts and retry
// policy for the given environment and certificate.
func DefaultConfig(env Environment, cert tls.Certificate) *Config {
	return &Config{
		Environment: env,
		Certificate: cert,
		Timeout:     DefaultTimeout,
		Retry: retry.Policy{
			Attempts: ReconnectAttempts,
			Delay:    DurationReconnect,
		},
	}
}

// LoadConfig loads the configuration from a JSON file.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := new(Config)
	if err = json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config %s: %w", filename, err)
	}
	return config, nil
}

// Validate checks the configuration and fills missing values with defaults.
func (config *Config) Validate() error {
	if config.DialFunc == nil && len(config.Certificate.Certificate) == 0 {
		return ErrNoCertificate
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Retry.Attempts <= 0 {
		config.Retry.Attempts = ReconnectAttempts
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if len(config.Certificate.Certificate) > 0 {
		info := GetCertificateInfo(config.Certificate)
		switch {
		case info == nil:
			config.Logger.Warn("unable to parse client certificate")
		case config.Environment == Production && !info.Production,
			config.Environment == Development && !info.Development:
			config.Logger.Warn("certificate does not support environment",
				zap.Stringer("environment", config.Environment),
				zap.Stringer("certificate", info))
		}
	}
	return nil
}

// Dial establishes a TLS connection to the address using the client
// certificate.
func (config *Config) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if config.DialFunc != nil {
		return config.DialFunc(ctx, addr)
	}
	serverName, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: TimeoutConnect},
		Config: &tls.Config{
			Certificates: []tls.Certificate{config.Certificate},
			ServerName:   serverName,
			// local servers use self-signed certificates
			InsecureSkipVerify: config.Environment == Local,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func (config *Config) logger() *zap.Logger {
	if config.Logger == nil {
		return zap.NewNop()
	}
	return config.Logger
}

// ConfigJSON is the JSON form of the configuration.
type ConfigJSON struct {
	Type          string      `json:"type"`
	BundleID      string      `json:"bundleId,omitempty"`
	Environment   Environment `json:"environment"`
	Certificate   [][]byte    `json:"certificate"`
	PrivateKey    []byte      `json:"privateKey"`
	Timeout       int64       `json:"timeout,omitempty"`       // microseconds
	RetryAttempts int         `json:"retryAttempts,omitempty"` // connection attempts
	RetryDelay    int64       `json:"retryDelay,omitempty"`    // microseconds
}

// UnmarshalJSON reads the configuration from its JSON form.
func (config *Config) UnmarshalJSON(data []byte) error {
	if config == nil {
		return ErrConfigNil
	}
	dataJSON := new(ConfigJSON)
	if err := json.Unmarshal(data, dataJSON); err != nil {
		return err
	}
	cert, err := tls.X509KeyPair(bytes.Join(dataJSON.Certificate, []byte{'\n'}), dataJSON.PrivateKey)
	if err != nil {
		return err
	}
	*config = *DefaultConfig(dataJSON.Environment, cert)
	if dataJSON.Timeout > 0 {
		config.Timeout = time.Duration(dataJSON.Timeout) * time.Microsecond
	}
	if dataJSON.RetryAttempts > 0 {
		config.Retry.Attempts = dataJSON.RetryAttempts
	}
	if dataJSON.RetryDelay > 0 {
		config.Retry.Delay = time.Duration(dataJSON.RetryDelay) * time.Microsecond
	}
	return nil
}

// CreateConfig builds the JSON configuration from PEM certificate and key
// files. When bundleID is empty it is taken from the certificate.
func CreateConfig(bundleID, certFile, keyFile string, env Environment) (*ConfigJSON, error) {
	certPEMBlock, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	keyPEMBlock, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	pair, err := tls.X509KeyPair(certPEMBlock, keyPEMBlock)
	if err != nil {
		return nil, err
	}
	if bundleID == "" {
		if info := GetCertificateInfo(pair); info != nil {
			bundleID = info.BundleID
		}
	}

	cert := make([][]byte, 0, 2)
	var certDERBlock *pem.Block
	for {
		certDERBlock, certPEMBlock = pem.Decode(certPEMBlock)
		if certDERBlock == nil {
			break
		}
		if certDERBlock.Type == "CERTIFICATE" {
			cert = append(cert, pem.EncodeToMemory(certDERBlock))
		}
	}
	if len(cert) == 0 {
		return nil, errors.New("no certificates found")
	}

	var keyDERBlock *pem.Block
	for {
		keyDERBlock, keyPEMBlock = pem.Decode(keyPEMBlock)
		if keyDERBlock == nil {
			return nil, errors.New("failed to parse key PEM data")
		}
		if keyDERBlock.Type == "PRIVATE KEY" || strings.HasSuffix(keyDERBlock.Type, " PRIVATE KEY") {
			break
		}
	}

	return &ConfigJSON{
		Type:          "apns",
		BundleID:      bundleID,
		Environment:   env,
		Certificate:   cert,
		PrivateKey:    pem.EncodeToMemory(keyDERBlock),
		Timeout:       DefaultTimeout.Microseconds(),
		RetryAttempts: ReconnectAttempts,
		RetryDelay:    DurationReconnect.Microseconds(),
	}, nil
}
