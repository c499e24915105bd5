package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forzax/cycleloop/pkg/app"
	"github.com/forzax/cycleloop/pkg/types"
)

func newCyclesCmd(e *env) *cobra.Command {
	var campaignID string
	var stage string
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Show a campaign's cycle history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			cycles, err := a.Cycles(ctx, campaignID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if stage != "" {
				name := types.StageName(stage)
				if !name.Valid() {
					return fmt.Errorf("unknown stage %q", stage)
				}
				for _, cy := range cycles {
					fmt.Fprintf(out, "== %s (%s) ==\n%s\n\n", cy.ID, cy.Stage(name).Status, cy.Stage(name).AgentOutput)
				}
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CYCLE\tSTATUS\tSTAGE\tSTARTED")
			for _, cy := range cycles {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", cy.CycleNumber, cy.Status, cy.CurrentStage, cy.StartedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign id")
	cmd.Flags().StringVar(&stage, "stage", "", "print this stage's output for every cycle")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}
