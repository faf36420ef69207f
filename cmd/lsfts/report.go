package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"lsfts/internal/common"
	"lsfts/internal/storage"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"
)

var (
	reportModelDir string
	reportRunID    string
	reportScheme   string

	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Summarize archived base runs and self-training iterations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			archive, err := storage.New(reportModelDir)
			if err != nil {
				return fmt.Errorf("failed to open results archive: %w", err)
			}
			defer archive.Close()
			return writeReport(cmd.OutOrStdout(), archive, reportRunID, reportScheme)
		},
	}
)

func init() {
	dir := os.Getenv(common.EnvModelDir)
	if dir == "" {
		dir = common.DefaultModelDir
	}
	reportCmd.Flags().StringVar(&reportModelDir, "model-dir", dir, "Model directory holding results.db")
	reportCmd.Flags().StringVar(&reportRunID, "run-id", "", "Only report base runs of this run")
	reportCmd.Flags().StringVar(&reportScheme, "scheme", "", "Only report this sampling scheme")
}

type reportSource interface {
	GetBaseRuns(runID string) ([]storage.BaseRunRecord, error)
	GetIterations(scheme string) ([]storage.IterationRecord, error)
	Schemes() ([]string, error)
}

func writeReport(out io.Writer, src reportSource, runID, scheme string) error {
	runs, err := src.GetBaseRuns(runID)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "=== Base models ===")
	if len(runs) == 0 {
		fmt.Fprintln(out, "no base runs archived")
	} else {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "run\tattempt\tseed\tval_loss\taccuracy\tmacro_f1\tf1")
		var acc, f1 stats.Float64Data
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.4f\t%.4f\t%.4f\t%.4f\n",
				shortID(r.RunID), r.Attempt, r.Seed, r.ValLoss, r.Report.Accuracy, r.Report.MacroF1, r.Report.F1)
			acc = append(acc, r.Report.Accuracy)
			f1 = append(f1, r.Report.F1)
		}
		tw.Flush()

		meanAcc, _ := stats.Mean(acc)
		sdAcc, _ := stats.StandardDeviation(acc)
		maxAcc, _ := stats.Max(acc)
		meanF1, _ := stats.Mean(f1)
		fmt.Fprintf(out, "accuracy mean %.4f sd %.4f max %.4f, f1 mean %.4f over %d attempts\n",
			meanAcc, sdAcc, maxAcc, meanF1, len(runs))
	}

	schemes := []string{scheme}
	if scheme == "" {
		if schemes, err = src.Schemes(); err != nil {
			return err
		}
	}
	for _, sc := range schemes {
		recs, err := src.GetIterations(sc)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n=== Self-training: %s ===\n", sc)
		if len(recs) == 0 {
			fmt.Fprintln(out, "no iterations archived")
			continue
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "iter\trun\tresumed\tval_acc\ttest_acc\tselected\tmean_conf\tmean_weight\tbest_val_test\tmax_test")
		var testAcc stats.Float64Data
		for _, r := range recs {
			fmt.Fprintf(tw, "%d\t%s\t%t\t%.4f\t%.4f\t%d\t%.4f\t%.4f\t%.4f\t%.4f\n",
				r.Iteration, shortID(r.RunID), r.Resumed, r.ValAccuracy, r.TestAccuracy, r.Selected,
				r.MeanConfidence, r.MeanWeight, r.BestValTestAcc, r.MaxTestAcc)
			testAcc = append(testAcc, r.TestAccuracy)
		}
		tw.Flush()
		median, _ := stats.Median(testAcc)
		maxAcc, _ := stats.Max(testAcc)
		fmt.Fprintf(out, "test accuracy median %.4f max %.4f over %d iterations\n", median, maxAcc, len(recs))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
