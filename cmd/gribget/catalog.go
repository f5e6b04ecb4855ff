package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/gribget/internal/catalog"
)

func catalogCmd() *cobra.Command {
	var param string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the known parameter catalog",
		Long: `List every parameter the subsetting engine knows how to locate
in a sidecar index, with its level and qualifier.

Examples:
  gribget catalog
  gribget catalog --param TMP`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORDINAL\tPARAM\tLEVEL\tQUALIFIER\tDESCRIPTION")
			for _, e := range catalog.Entries() {
				if param != "" && !strings.EqualFold(e.Param, param) {
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					e.Ordinal, e.Param, e.Level, e.Qualifier, e.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&param, "param", "", "show only entries for one param")

	return cmd
}
