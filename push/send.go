package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	apns "github.com/mdigger/binapns"
	"github.com/mdigger/binapns/tokenstore"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func sendCmd(s *settings) *cobra.Command {
	var (
		ntf    apns.Notification
		badge  int
		custom string
		file   string
		expiry time.Duration
		resend int
	)
	cmd := &cobra.Command{
		Use:   "send [flags] <token> [<token2> [...]]",
		Short: "Send a notification",
		Long: `Send a notification to one or more devices.

Tokens rejected together with an earlier failed frame are sent again up to
--resend times. With --redis, tokens reported by the feedback service are
skipped.

Examples:
  push send -c cert.p12 -a "Hello!" 7a1b...
  push send -c cert.pem -k key.pem -b 3 -s default --custom '{"id":42}' 7a1b... 9c2d...
  push send -f message.json 7a1b...`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if file != "" {
				if err := loadNotification(file, &ntf); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("badge") {
				ntf.Badge = &badge
			}
			if custom != "" {
				if err := json.Unmarshal([]byte(custom), &ntf.Custom); err != nil {
					return fmt.Errorf("custom fields: %w", err)
				}
			}
			if expiry > 0 {
				ntf.Expiry = time.Now().Add(expiry)
			}
			tokens, err := parseTokens(args)
			if err != nil {
				return err
			}
			if s.redis != "" {
				if tokens, err = filterSuppressed(ctx, s.redis, tokens); err != nil {
					return err
				}
			}
			if len(tokens) == 0 {
				pterm.Warning.Println("Nothing to send: all tokens are suppressed")
				return nil
			}
			ntf.Tokens = tokens

			config, err := s.apnsConfig()
			if err != nil {
				return err
			}
			return apns.WithManager(config, func(m *apns.Manager) error {
				result, err := sendAll(ctx, m, &ntf, resend, s.logger())
				if err != nil {
					return err
				}
				printResult(result)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&ntf.Alert, "alert", "a", "", "alert `text`")
	flags.IntVarP(&badge, "badge", "b", 0, "badge `number`")
	flags.StringVarP(&ntf.Sound, "sound", "s", "", "`sound` name")
	flags.StringVar(&custom, "custom", "", "custom payload fields as a JSON `object`")
	flags.StringVarP(&file, "file", "f", "", "JSON `file` with the notification")
	flags.DurationVar(&expiry, "expiry", 0, "expiration `duration` (default one day)")
	flags.IntVar(&resend, "resend", 1, "how many times to send undelivered tokens again")
	return cmd
}

// notificationFile is the JSON form of a notification.
type notificationFile struct {
	Alert  json.RawMessage        `json:"alert,omitempty"`
	Badge  *int                   `json:"badge,omitempty"`
	Sound  string                 `json:"sound,omitempty"`
	Expiry int64                  `json:"expiry,omitempty"` // epoch seconds
	Custom map[string]interface{} `json:"custom,omitempty"`
}

// loadNotification reads the notification content from the JSON file. The
// alert may be a string or an alert dictionary.
func loadNotification(filename string, ntf *apns.Notification) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	var nf notificationFile
	if err := json.Unmarshal(data, &nf); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	if len(nf.Alert) > 0 {
		if err := json.Unmarshal(nf.Alert, &ntf.Alert); err != nil {
			ntf.AlertDict = new(apns.Alert)
			if err := json.Unmarshal(nf.Alert, ntf.AlertDict); err != nil {
				return fmt.Errorf("%s: alert: %w", filename, err)
			}
		}
	}
	ntf.Badge = nf.Badge
	ntf.Sound = nf.Sound
	ntf.Custom = nf.Custom
	if nf.Expiry > 0 {
		ntf.Expiry = time.Unix(nf.Expiry, 0)
	}
	return nil
}

func parseTokens(args []string) ([]apns.DeviceToken, error) {
	tokens := make([]apns.DeviceToken, 0, len(args))
	for _, arg := range args {
		token, err := apns.ParseToken(arg)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func filterSuppressed(ctx context.Context, addr string, tokens []apns.DeviceToken) ([]apns.DeviceToken, error) {
	store, err := tokenstore.Open(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	defer store.Close()
	allowed, suppressed, err := store.Filter(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	for _, token := range suppressed {
		pterm.Warning.Printfln("Skipped suppressed token %s", token)
	}
	return allowed, nil
}

// sendAll sends the notification and then sends the undelivered tokens
// again, at most resend times.
func sendAll(ctx context.Context, m *apns.Manager, ntf *apns.Notification, resend int, log *zap.Logger) (*apns.SendResult, error) {
	var (
		total  = new(apns.SendResult)
		tokens = ntf.Tokens
	)
	for attempt := 0; len(tokens) > 0; attempt++ {
		var next = *ntf
		next.Tokens = tokens
		result, err := m.Send(ctx, &next)
		if err != nil {
			return nil, err
		}
		total.Delivered = append(total.Delivered, result.Delivered...)
		tokens = result.MustResend
		if len(tokens) == 0 || attempt >= resend {
			break
		}
		log.Info("sending again", zap.Int("tokens", len(tokens)), zap.Int("attempt", attempt+1))
	}
	total.MustResend = append(total.MustResend, tokens...)
	return total, nil
}

func printResult(result *apns.SendResult) {
	rows := [][]string{{"Token", "Status"}}
	for _, token := range result.Delivered {
		rows = append(rows, []string{token.String(), "delivered"})
	}
	for _, token := range result.MustResend {
		rows = append(rows, []string{token.String(), "not delivered"})
	}
	pterm.DefaultTable.WithHasHeader(true).WithData(rows).Render()
	if result.Complete() {
		pterm.Success.Printfln("Delivered %s", plural(len(result.Delivered), "token"))
	} else {
		pterm.Warning.Printfln("Delivered %s, not delivered %s",
			plural(len(result.Delivered), "token"), plural(len(result.MustResend), "token"))
	}
}
