package main

import (
	"crypto/tls"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	apns "github.com/mdigger/binapns"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// settings are the connection flags shared by all commands.
type settings struct {
	env      string
	cert     string
	key      string
	password string
	config   string
	timeout  time.Duration
	attempts int
	logLevel string
	logFile  string
	envFile  string
	redis    string
	log      *zap.Logger
	// envSet is true when the environment was given explicitly and overrides
	// the one of the configuration file.
	envSet bool
}

// envFlags maps flag names to environment variables.
var envFlags = map[string]string{
	"env":       "APNS_ENVIRONMENT",
	"cert":      "APNS_CERT",
	"key":       "APNS_KEY",
	"password":  "APNS_PASSWORD",
	"config":    "APNS_CONFIG",
	"timeout":   "APNS_TIMEOUT", // microseconds
	"attempts":  "APNS_RETRY_ATTEMPTS",
	"log-level": "APNS_LOG_LEVEL",
	"log-file":  "APNS_LOG_FILE",
	"redis":     "APNS_REDIS",
}

// applyEnv loads the environment file and sets every flag that was not given
// on the command line from its environment variable. A missing file is not
// an error.
func applyEnv(cmd *cobra.Command, filename string) error {
	if filename != "" {
		if err := godotenv.Load(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	flags := cmd.Flags()
	for name, key := range envFlags {
		value, ok := os.LookupEnv(key)
		if !ok || value == "" || flags.Lookup(name) == nil || flags.Changed(name) {
			continue
		}
		if name == "timeout" {
			usec, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return errors.New(key + ": " + err.Error())
			}
			value = (time.Duration(usec) * time.Microsecond).String()
		}
		if err := flags.Set(name, value); err != nil {
			return errors.New(key + ": " + err.Error())
		}
	}
	return nil
}

// certificate loads the client certificate.
func (s *settings) certificate() (*tls.Certificate, error) {
	switch {
	case s.cert == "":
		return nil, apns.ErrNoCertificate
	case s.key != "":
		return apns.LoadKeyPair(s.cert, s.key)
	default:
		return apns.LoadCertificate(s.cert, s.password)
	}
}

// apnsConfig builds the client configuration from the JSON file or from the
// certificate flags.
func (s *settings) apnsConfig() (*apns.Config, error) {
	env, err := apns.ParseEnvironment(s.env)
	if err != nil {
		return nil, err
	}
	var config *apns.Config
	if s.config != "" {
		if config, err = apns.LoadConfig(s.config); err != nil {
			return nil, err
		}
	} else {
		cert, err := s.certificate()
		if err != nil {
			return nil, err
		}
		config = apns.DefaultConfig(env, *cert)
	}
	if s.config == "" || s.envSet {
		config.Environment = env
	}
	if s.timeout > 0 {
		config.Timeout = s.timeout
	}
	if s.attempts > 0 {
		config.Retry.Attempts = s.attempts
	}
	config.Logger = s.logger()
	return config, nil
}
