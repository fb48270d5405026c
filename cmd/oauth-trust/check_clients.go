package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth-trust/internal/config"
)

func newCheckClientsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-clients",
		Short: "Validate the configured clients and API resources and list them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			return printClients(cmd.OutOrStdout(), cfg)
		},
	}
}

func printClients(out io.Writer, cfg *config.Config) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENT\tENABLED\tGRANT TYPES\tSCOPES\tREDIRECT URIS")
	for _, c := range cfg.Clients {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%d\n",
			c.ClientID,
			c.Enabled,
			strings.Join(c.GrantTypes.Values(), ","),
			strings.Join(c.AllowedScopes, " "),
			len(c.RedirectURIs))
	}
	if len(cfg.APIResources) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "API RESOURCE\tENABLED\tSCOPES")
		for _, api := range cfg.APIResources {
			fmt.Fprintf(tw, "%s\t%t\t%s\n", api.Name, api.Enabled, strings.Join(api.Scopes, " "))
		}
	}
	return tw.Flush()
}
