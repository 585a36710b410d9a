package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var researchOwner string

var researchCmd = &cobra.Command{
	Use:   "research <sector>",
	Short: "Submit a sector for research",
	Long:  "Creates a sector analysis and enqueues the research stage. Workers pick the job up from the shared queue, so a serve instance must be running for progress.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "research")
		if err != nil {
			return err
		}
		defer env.Close()

		sa, err := env.Pipeline.SubmitSector(cmd.Context(), researchOwner, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("submitted: %s\n", sa.ID)
		fmt.Printf("sector:    %s\n", sa.SectorName)
		fmt.Printf("status:    %s\n", sa.Status)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <sub-sector-id>",
	Short: "Approve a sub-sector for ranking and analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "research")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.ApproveSubSector(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("approved: %s\n", args[0])
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <stock-id>",
	Short: "Start or re-trigger a deep analysis for one stock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "research")
		if err != nil {
			return err
		}
		defer env.Close()

		a, err := env.Pipeline.RetriggerAnalysis(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("analysis:  %s\n", a.ID)
		fmt.Printf("status:    %s\n", a.Status)
		return nil
	},
}

func init() {
	researchCmd.Flags().StringVar(&researchOwner, "owner", "cli", "owner id recorded on the analysis")
	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(analyzeCmd)
}
