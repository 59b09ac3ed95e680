package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/fee"
)

var syncCmd = &cobra.Command{
	Use:   "sync-ledger",
	Short: "Post due installments and receipts to the ledger",
	Long: `Post a fee-due transaction for every installment due on or before
--as-of that has none, and re-post every active receipt. Posting is
idempotent; running it twice changes nothing.`,
	Example: `  feeengine sync-ledger
  feeengine sync-ledger --as-of 2025-06-30 --scope north`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	addFilterFlags(syncCmd)
	syncCmd.Flags().String("as-of", "", "Post dues up to this date (format: YYYY-MM-DD, default: today)")
}

func runSync(cmd *cobra.Command, args []string) error {
	asOf := fee.Today()
	if v, _ := cmd.Flags().GetString("as-of"); v != "" {
		parsed, err := fee.ParseDate(v)
		if err != nil {
			return fmt.Errorf("invalid --as-of date. Use YYYY-MM-DD: %w", err)
		}
		asOf = parsed
	}

	a, err := newApp(cmd.Context(), loadConfig(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.service.SyncLedger(cmd.Context(), filterFromFlags(cmd), asOf)
	if err != nil {
		return err
	}
	a.logger.Info("ledger sync finished",
		zap.String("as_of", fee.FormatDate(asOf)),
		zap.Int("subjects", report.Subjects),
		zap.Int("dues_posted", report.DuesPosted),
		zap.Int("receipts_posted", report.ReceiptsPosted),
		zap.Int("failed", report.Failed))

	if err := printJSON(cmd, report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d subject(s) failed to sync", report.Failed)
	}
	return nil
}
