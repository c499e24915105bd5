package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forzax/cycleloop/pkg/gcp"
	"github.com/forzax/cycleloop/pkg/notify"
)

func newWatchCmd(e *env) *cobra.Command {
	var subscription string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print loop events from a Pub/Sub subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.GCPProject == "" {
				return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required to watch events")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := gcp.NewClient(ctx, gcp.Options{
				ProjectID:       e.cfg.GCPProject,
				CredentialsFile: e.cfg.CredentialsFile,
				PubSub:          true,
			}, e.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			return client.Subscribe(ctx, subscription, func(ctx context.Context, msg *pubsub.Message) {
				ev, err := notify.Decode(msg.Data)
				if err != nil {
					e.logger.Warn("dropping undecodable event", zap.String("id", msg.ID), zap.Error(err))
					msg.Ack()
					return
				}
				line := fmt.Sprintf("%s %s %s", ev.Time.Format("15:04:05"), ev.Type, ev.CampaignID)
				if ev.Stage != "" {
					line += " " + ev.Stage
				}
				mu.Lock()
				fmt.Fprintln(out, line+": "+ev.Message)
				mu.Unlock()
				msg.Ack()
			})
		},
	}
	cmd.Flags().StringVar(&subscription, "subscription", "", "Pub/Sub subscription attached to CYCLELOOP_PUBSUB_TOPIC")
	_ = cmd.MarkFlagRequired("subscription")
	return cmd
}
