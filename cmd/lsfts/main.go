package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "lsfts",
		Short: "Uncertainty-aware self-training for text classifiers",
		Long: `lsfts trains a text classifier on a small labeled set and improves it by
pseudo-labeling an unlabeled pool, picking examples by MC dropout uncertainty.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.AddCommand(trainCmd, reportCmd, synthCmd, watchCmd, serveModelCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func setupLogging(level string) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// serve runs srv until ctx is done, then shuts it down.
func serve(ctx context.Context, srv *http.Server, name string) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msgf("starting %s server", name)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msgf("failed to shutdown %s server", name)
		return err
	}
	return nil
}
