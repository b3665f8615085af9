package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/moolen/voldiag/internal/diagnosis"
)

var (
	target       diagnosis.Target
	outputFormat string
	exportPath   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Rank root causes and generate the investigation plan for a pod",
	Long: `Load the collector output, run causal inference and print the ranked
root causes together with the investigation plan for the given pod.`,
	RunE: runAnalyze,
}

func init() {
	addTargetFlags(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")
	analyzeCmd.Flags().StringVar(&exportPath, "export", "", "Also write the graph export JSON to this file")
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&target.Pod, "pod", "", "Name or id of the failing pod")
	cmd.Flags().StringVarP(&target.Namespace, "namespace", "n", "default", "Namespace of the pod")
	cmd.Flags().StringVar(&target.VolumePath, "volume-path", "", "Mount path of the failing volume")
	_ = cmd.MarkFlagRequired("pod")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("invalid output format %q (must be text or json)", outputFormat)
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, inputFlags)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	report, err := rt.session.Report(ctx, target)
	if err != nil {
		return err
	}

	if exportPath != "" {
		data, err := rt.session.Export(ctx)
		if err != nil {
			return fmt.Errorf("failed to export graph: %w", err)
		}
		if err := os.WriteFile(exportPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	writeReport(out, report)
	return nil
}

func writeReport(w io.Writer, r *diagnosis.Report) {
	primary := r.Analysis.PrimaryRootCause
	fmt.Fprintf(w, "Session: %s\n", r.SessionID)
	fmt.Fprintf(w, "Entities: %d, Issues: %d, Relationships: %d\n",
		r.Summary.TotalEntities, r.Summary.TotalIssues, r.Summary.TotalRelationships)
	fmt.Fprintf(w, "\nPrimary Root Cause: [%.2f] %s\n", primary.Confidence, primary.RootCause)
	if primary.EntityID != "" {
		fmt.Fprintf(w, "  Entity: %s\n", primary.EntityID)
	}
	if primary.FixPlan != "" {
		fmt.Fprintf(w, "  Fix: %s\n", primary.FixPlan)
	}

	if len(r.Analysis.RootCauses) > 1 {
		fmt.Fprintln(w, "\nOther Candidates:")
		for i, rc := range r.Analysis.RootCauses[1:] {
			fmt.Fprintf(w, "  %d. [%.2f] %s (%s)\n", i+2, rc.Confidence, rc.RootCause, rc.EntityID)
		}
	}

	fmt.Fprintf(w, "\n%s", r.PlanText)
}
