package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/tuition-engine/factory"
	"github.com/warp/tuition-engine/fee"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the installment schedule for a pricing document",
	Long: `Print the installment schedule a pricing JSON document would produce.
Nothing is stored and no database is opened.`,
	Example: `  feeengine preview --pricing '{"course_fee":"1000","fee_type":"installment","installment_type":"custom","custom_months":3,"start_date":"2025-01-15"}'
  feeengine preview --file pricing.json`,
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().String("pricing", "", "Pricing JSON document")
	previewCmd.Flags().String("file", "", "Path to a pricing JSON file")
}

func runPreview(cmd *cobra.Command, args []string) error {
	doc, _ := cmd.Flags().GetString("pricing")
	path, _ := cmd.Flags().GetString("file")
	switch {
	case doc == "" && path == "":
		return fmt.Errorf("one of --pricing or --file is required")
	case doc != "" && path != "":
		return fmt.Errorf("--pricing and --file are mutually exclusive")
	case path != "":
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read pricing file: %w", err)
		}
		doc = string(raw)
	}

	cfg, err := factory.NewPricingFactory().ParsePricing(doc)
	if err != nil {
		return err
	}
	preview, err := fee.PreviewSchedule(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Net amount: %s\n\n", preview.NetAmount)
	if len(preview.Lines) == 0 {
		fmt.Fprintln(out, "No installments.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tLabel\tPayment\tDue\tAmount\t")
	for _, l := range preview.Lines {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t\n",
			l.Sequence, l.Label, fee.FormatDate(l.PaymentDate), fee.FormatDate(l.DueDate), l.Amount)
	}
	return tw.Flush()
}
