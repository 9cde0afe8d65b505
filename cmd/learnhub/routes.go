package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joestump/learnhub/internal/config"
	"github.com/joestump/learnhub/internal/routes"
)

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Validate and print the route classification table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadUnchecked()
			if err != nil {
				return err
			}
			table, err := newRouteTable(cfg)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLASS\tPREFIX")
			for _, p := range table.Exempt() {
				fmt.Fprintf(tw, "%s\t%s\n", routes.Exempt, p)
			}
			for _, p := range table.Protected() {
				fmt.Fprintf(tw, "%s\t%s\n", routes.Protected, p)
			}
			for _, p := range table.Public() {
				fmt.Fprintf(tw, "%s\t%s\n", routes.Public, p)
			}
			fmt.Fprintf(tw, "\nlogin\t%s\nhome\t%s\n", cfg.Routes.LoginPath, cfg.Routes.HomePath)
			return tw.Flush()
		},
	}
}

func newRouteTable(cfg *config.Config) (*routes.Table, error) {
	return routes.New(routes.Config{
		Public:    cfg.Routes.Public,
		Protected: cfg.Routes.Protected,
		Exempt:    cfg.Routes.Exempt,
	})
}
