package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sector-scout/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <sector-analysis-id>",
	Short: "Show the full state of one sector analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		return printTree(cmd.Context(), st, args[0])
	},
}

func printTree(ctx context.Context, st store.Store, id string) error {
	tree, err := st.GetSectorAnalysisTree(ctx, id)
	if err != nil {
		return eris.Wrap(err, "fetch sector analysis")
	}

	fmt.Printf("%s  [%s]  %s\n", tree.SectorName, tree.Status, tree.ID)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	for _, ss := range tree.SubSectors {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", ss.Name, ss.Status, ss.ID)
		for _, stock := range ss.Stocks {
			rank := "-"
			if stock.Rank > 0 {
				rank = fmt.Sprintf("#%d", stock.Rank)
			}
			line := fmt.Sprintf("    %s\t%s\t%s", stock.CompanyName, rank, stock.ID)
			if stock.Analysis != nil {
				line += fmt.Sprintf("\t%s", stock.Analysis.Status)
				if stock.Analysis.FailureReason != "" {
					line += fmt.Sprintf("  (%s)", stock.Analysis.FailureReason)
				}
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

var purgeDays int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove completed job records past the retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		days := purgeDays
		if days == 0 {
			days = cfg.Retention.JobStatusDays
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		n, err := st.PurgeJobStatuses(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d job records older than %d days\n", n, days)
		return nil
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 0, "retention horizon in days (default from config)")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(purgeCmd)
}
