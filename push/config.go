package main

import (
	"encoding/json"
	"errors"
	"os"

	apns "github.com/mdigger/binapns"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func configCmd(s *settings) *cobra.Command {
	var (
		bundleID string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create a JSON configuration from PEM files",
		Long: `Create a JSON configuration file from the PEM certificate and key.

If the bundle ID is not given it is taken from the certificate. Always check
that it is correct. The key file must not be encrypted.

Example:
  push config -c cert.pem -k key.pem -e production -o config.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.cert == "" || s.key == "" {
				return errors.New("both --cert and --key are required")
			}
			env, err := apns.ParseEnvironment(s.env)
			if err != nil {
				return err
			}
			data, err := createConfig(bundleID, s.cert, s.key, env)
			if err != nil {
				return err
			}
			if output == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0600); err != nil {
				return err
			}
			pterm.Success.Printfln("Created %s", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&bundleID, "bundle", "", "bundle `id` (default from the certificate)")
	cmd.Flags().StringVarP(&output, "output", "o", "config.json", "output `file`, - for stdout")
	return cmd
}

func createConfig(bundleID, certFile, keyFile string, env apns.Environment) ([]byte, error) {
	config, err := apns.CreateConfig(bundleID, certFile, keyFile, env)
	if err != nil {
		return nil, err
	}
	if config.BundleID == "" {
		pterm.Warning.Println("Bundle ID not found in the certificate")
	}
	data, err := json.MarshalIndent(config, "", "\t")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
