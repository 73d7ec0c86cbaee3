package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/antoniostano/browsercloud/internal/config"
	"github.com/antoniostano/browsercloud/internal/endpoint"
)

func newEndpointsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "Print the browser endpoint set the server would start with",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			pool, err := endpoint.NewPool(endpoint.LoadSet(cfg.EndpointsJSON, cfg.EndpointsFile))
			if err != nil {
				return err
			}
			return writeEndpoints(cmd.OutOrStdout(), pool.List(), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func writeEndpoints(w io.Writer, list []endpoint.Endpoint, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tADDRESS")
		for _, e := range list {
			fmt.Fprintf(tw, "%s\t%s\n", e.ID, e.Address)
		}
		return tw.Flush()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string][]endpoint.Endpoint{"endpoints": list}); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
