package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/fee"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild installment schedules for stored subjects",
	Long: `Regenerate schedules from stored pricing, replay receipts and post
dues that are due today. Subjects without a fee type are skipped; failures
are counted and do not stop the run.`,
	Example: `  feeengine refresh --subject 0192b5e4-... --subject 0192b5e5-...
  feeengine refresh --scope north --active`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)

	addFilterFlags(refreshCmd)
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("subject", nil, "Subject IDs (default: all)")
	cmd.Flags().String("scope", "", "Only subjects in this scope")
	cmd.Flags().Bool("active", false, "Only active subjects")
}

func filterFromFlags(cmd *cobra.Command) fee.SubjectFilter {
	ids, _ := cmd.Flags().GetStringSlice("subject")
	scope, _ := cmd.Flags().GetString("scope")
	active, _ := cmd.Flags().GetBool("active")

	filter := fee.SubjectFilter{Scope: scope, ActiveOnly: active}
	for _, id := range ids {
		filter.IDs = append(filter.IDs, fee.SubjectID(id))
	}
	return filter
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), loadConfig(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.service.BulkRefresh(cmd.Context(), filterFromFlags(cmd))
	if err != nil {
		return err
	}
	a.logger.Info("refresh finished",
		zap.Int("refreshed", report.Refreshed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))

	if err := printJSON(cmd, report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d subject(s) failed to refresh", report.Failed)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
