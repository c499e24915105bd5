package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forzax/cycleloop/pkg/app"
)

func newCampaignCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Create, list and delete campaigns",
	}
	cmd.AddCommand(newCampaignCreateCmd(e), newCampaignListCmd(e), newCampaignDeleteCmd(e))
	return cmd
}

func newCampaignCreateCmd(e *env) *cobra.Command {
	var brand, audience, goal string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign at cycle 1",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.CreateCampaign(ctx, brand, audience, goal)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&brand, "brand", "", "brand name and description")
	cmd.Flags().StringVar(&audience, "audience", "", "target audience")
	cmd.Flags().StringVar(&goal, "goal", "", "marketing goal")
	_ = cmd.MarkFlagRequired("brand")
	_ = cmd.MarkFlagRequired("audience")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func newCampaignListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List campaigns, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.ListCampaigns(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBRAND\tSTATUS\tCYCLE\tCREATED")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.Brand, c.Status, c.CurrentCycle, c.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newCampaignDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <campaign-id>",
		Short: "Delete a campaign and its cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.DeleteCampaign(ctx, args[0])
		},
	}
}
