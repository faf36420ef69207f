package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"lsfts/internal/events"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	watchURL string

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Follow the event feed of a running training",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := events.Watch(ctx, watchURL, logEvent)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
)

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "ws://localhost:8081/events", "Event feed URL")
}

// logEvent prints one event and stops the watch when the run is over.
func logEvent(e events.Event) error {
	l := log.Info().
		Str("type", e.Type).
		Str("run_id", e.RunID).
		Str("scheme", e.Scheme)

	switch e.Type {
	case events.TypePhase:
		l.Str("phase", e.Phase).Msg("Phase")
	case events.TypeBaseAttempt:
		l.Int("attempt", e.Iteration).Interface("record", e.Data).Msg("Base attempt")
	case events.TypeIteration:
		l.Int("iteration", e.Iteration).Interface("record", e.Data).Msg("Iteration")
	case events.TypeDone:
		l.Interface("tracker", e.Data).Msg("Run finished")
		return events.ErrStop
	case events.TypeError:
		log.Error().Str("run_id", e.RunID).Str("scheme", e.Scheme).Msg(e.Message)
		return events.ErrStop
	default:
		l.Msg(e.Message)
	}
	return nil
}
