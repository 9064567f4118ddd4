// Command push sends notifications through the binary Apple Push
// Notification gateway and reads the feedback service.
//
//	push send -c cert.p12 -p secret -a "Hello!" <token> [<token2> [...]]
//	push feedback -c cert.pem -k key.pem --redis localhost:6379
//	push cert -c cert.p12
//	push config -c cert.pem -k key.pem -o config.json
//
// Every connection flag can also be given as an APNS_* environment variable,
// optionally loaded from a .env file.
package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var s = new(settings)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Apple Push Notification binary gateway client",
		Long: `Send notifications through the binary Apple Push Notification
gateway and read the list of unregistered devices from the feedback service.

Connection settings are read from flags, APNS_* environment variables
and the .env file, in that order of priority.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyEnv(cmd, s.envFile); err != nil {
				return err
			}
			s.envSet = cmd.Flags().Changed("env")
			log, err := newLogger(s.logLevel, s.logFile)
			if err != nil {
				return err
			}
			s.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if s.log != nil {
				s.log.Sync()
			}
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&s.env, "env", "e", "development", "`environment`: development, production or local")
	flags.StringVarP(&s.cert, "cert", "c", "", "certificate `file` (.p12, or PEM with --key)")
	flags.StringVarP(&s.key, "key", "k", "", "PEM private key `file`")
	flags.StringVarP(&s.password, "password", "p", "", "certificate `password`")
	flags.StringVar(&s.config, "config", "", "JSON configuration `file` created by the config command")
	flags.DurationVarP(&s.timeout, "timeout", "t", 0, "error response wait `duration`")
	flags.IntVar(&s.attempts, "attempts", 0, "connection attempts")
	flags.StringVar(&s.logLevel, "log-level", "warn", "log `level`")
	flags.StringVar(&s.logFile, "log-file", "", "also write the log to the rotated `file`")
	flags.StringVar(&s.envFile, "env-file", ".env", "environment `file`")
	flags.StringVar(&s.redis, "redis", "", "Redis `address` of the suppressed token store")

	cmd.AddCommand(
		sendCmd(s),
		feedbackCmd(s),
		certCmd(s),
		configCmd(s),
	)
	return cmd
}

// logger returns the configured logger.
func (s *settings) logger() *zap.Logger {
	if s.log == nil {
		return zap.NewNop()
	}
	return s.log
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
