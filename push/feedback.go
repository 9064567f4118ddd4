package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/kr/pretty"
	apns "github.com/mdigger/binapns"
	"github.com/mdigger/binapns/tokenstore"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func feedbackCmd(s *settings) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Read unregistered devices from the feedback service",
		Long: `Read the tokens of devices that removed the application.

The service sends every token only once; use --redis to keep them in the
suppressed token store used by the send command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			config, err := s.apnsConfig()
			if err != nil {
				return err
			}
			feedback, err := apns.FetchFeedback(ctx, config)
			if err != nil {
				return err
			}
			if verbose {
				pretty.Println(feedback)
			} else if len(feedback) > 0 {
				pterm.DefaultTable.WithHasHeader(true).WithData(feedbackRows(feedback)).Render()
			}
			pterm.Info.Printfln("Received %s", plural(len(feedback), "token"))

			if s.redis == "" || len(feedback) == 0 {
				return nil
			}
			store, err := tokenstore.Open(ctx, s.redis)
			if err != nil {
				return fmt.Errorf("token store: %w", err)
			}
			defer store.Close()
			if err := store.SuppressAll(ctx, feedback); err != nil {
				return fmt.Errorf("token store: %w", err)
			}
			pterm.Success.Printfln("Suppressed %s", plural(len(feedback), "token"))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the raw result")
	return cmd
}

// feedbackRows returns the table sorted by time, then by token.
func feedbackRows(feedback map[apns.DeviceToken]time.Time) [][]string {
	tokens := make([]apns.DeviceToken, 0, len(feedback))
	for token := range feedback {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		ti, tj := feedback[tokens[i]], feedback[tokens[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return tokens[i] < tokens[j]
	})
	rows := make([][]string, 0, len(tokens)+1)
	rows = append(rows, []string{"Token", "Removed"})
	for _, token := range tokens {
		rows = append(rows, []string{token.String(), feedback[token].UTC().Format(time.RFC3339)})
	}
	return rows
}
