package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/starcover/internal/export"
	"github.com/star/starcover/internal/tle"
)

type catalogSummary struct {
	tle.Metadata
	AgeHours   float64        `json:"age_hours"`
	Satellites []tle.TLEEntry `json:"satellites,omitempty"`
}

func newCatalogCmd(cfgFile *string) *cobra.Command {
	var list int

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Load the orbit catalog and print its metadata as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, *cfgFile, nil)
			if err != nil {
				return err
			}
			cat, err := a.loadCatalog(cmd.Context())
			if err != nil {
				return fmt.Errorf("loading catalog: %w", err)
			}

			out := catalogSummary{
				Metadata: cat.Metadata(),
				AgeHours: cat.Age(time.Now()).Hours(),
			}
			if list > 0 {
				entries := cat.Entries()
				out.Satellites = entries[:min(list, len(entries))]
			}
			return export.WriteJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&list, "list", 0, "also print the first n element sets")
	return cmd
}
