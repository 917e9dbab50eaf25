package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/spf13/cobra"
)

var eventsChannel string

// eventsCmd groups account event helpers.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect account events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log every account event published on the events channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return fmt.Errorf("MQ_BACKEND is %q; choose %s or %s", cfg.MQ.Backend, config.MQBackendRabbitMQ, config.MQBackendPubSub)
		}
		defer queue.Close()

		channel := cfg.MQ.EventsChannel
		if eventsChannel != "" {
			channel = eventsChannel
		}

		logger.Info(ctx, "tailing account events", "channel", channel)
		err = queue.Subscribe(ctx, channel, func(ctx context.Context, msg mq.Message) error {
			ev, err := mq.DecodeAccountEvent(msg)
			if err != nil {
				// Undecodable payloads are logged and acked so they do not loop.
				logger.Warn(ctx, "skipping message", "id", msg.ID, "error", err)
				return nil
			}
			logger.Info(ctx, "account event",
				"id", msg.ID,
				"type", ev.Type,
				"user_id", ev.UserID,
				"email", ev.Email,
				"occurred_at", ev.OccurredAt,
			)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsTailCmd.Flags().StringVar(&eventsChannel, "channel", "", "channel to tail (defaults to MQ_EVENTS_CHANNEL)")
	eventsCmd.AddCommand(eventsTailCmd)
}
