package main

import (
	"strconv"
	"time"

	"github.com/kr/pretty"
	apns "github.com/mdigger/binapns"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func certCmd(s *settings) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Show the push certificate information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := s.certificate()
			if err != nil {
				return err
			}
			info := apns.GetCertificateInfo(*cert)
			if info == nil {
				pterm.Warning.Println("Unable to parse the certificate")
				return nil
			}
			if raw {
				pretty.Println(info)
				return nil
			}
			pterm.DefaultTable.WithData(certRows(info)).Render()
			if info.IsExpired(time.Now()) {
				pterm.Warning.Printfln("Certificate expired %s", info.Expire.Format(time.RFC1123))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print all fields as is")
	return cmd
}

func certRows(info *apns.CertificateInfo) [][]string {
	return [][]string{
		{"Name", info.CName},
		{"Bundle ID", info.BundleID},
		{"Organization", info.OrgName},
		{"Team", info.OrgUnit},
		{"Country", info.Country},
		{"Development", strconv.FormatBool(info.Development)},
		{"Production", strconv.FormatBool(info.Production)},
		{"Apple", strconv.FormatBool(info.IsApple)},
		{"Expires", info.Expire.Format(time.RFC1123)},
	}
}
