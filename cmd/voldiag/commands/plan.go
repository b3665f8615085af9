package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the investigation plan for a pod",
	Long: `Print the investigation plan text consumed by the investigation agent.
The command always prints a plan: when the graph cannot support a full plan
the basic four-step plan is printed instead.`,
	RunE: runPlan,
}

func init() {
	addTargetFlags(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, inputFlags)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	_, err = fmt.Fprint(cmd.OutOrStdout(), rt.session.GeneratePlan(ctx, target.Pod, target.Namespace, target.VolumePath))
	return err
}
