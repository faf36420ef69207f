package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lsfts/internal/cfg"
	"lsfts/internal/checkpoint"
	"lsfts/internal/dataset"
	"lsfts/internal/events"
	"lsfts/internal/metrics"
	"lsfts/internal/ml"
	"lsfts/internal/selftrain"
	"lsfts/internal/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runID      string
	summaryOut string
	noServers  bool

	trainCmd = &cobra.Command{
		Use:   "train",
		Short: "Select a base model and run self-training",
		Long: `Loads settings from CONFIG_FILE (YAML) or the environment, trains the base
model candidates and runs the self-training iterations. Existing checkpoints in
the model directory are loaded instead of retrained.`,
		Args: cobra.NoArgs,
		RunE: runTrain,
	}
)

func init() {
	trainCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier for archived records (random if empty)")
	trainCmd.Flags().StringVar(&summaryOut, "summary", "", "Write the run summary as JSON to this file")
	trainCmd.Flags().BoolVar(&noServers, "no-servers", false, "Do not start the metrics and events endpoints")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	settings, err := cfg.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if logLevel == "" {
		setupLogging(settings.LogLevel)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, classes, err := loadData(settings)
	if err != nil {
		return err
	}

	store, err := checkpoint.New(settings.ModelDir)
	if err != nil {
		return err
	}
	archive, err := storage.New(settings.ModelDir)
	if err != nil {
		return fmt.Errorf("failed to open results archive: %w", err)
	}
	defer archive.Close()

	mw := metrics.NewWrapper(metrics.New())
	hub := events.NewHub()
	defer hub.Close()

	construct := ml.SoftmaxConstructor
	if settings.ModelURL != "" {
		remote := ml.NewRemoteModel(settings.ModelURL, settings.ModelTimeout)
		if err := remote.Health(ctx); err != nil {
			return fmt.Errorf("model server %s: %w", settings.ModelURL, err)
		}
		log.Info().Str("url", settings.ModelURL).Msg("Using remote model")
		construct = ml.RemoteConstructor(settings.ModelURL, settings.ModelTimeout)
	}

	if runID == "" {
		runID = uuid.NewString()
	}
	rc := settings.RunConfig(runID, classes)
	deps := selftrain.Deps{
		Store:     store,
		Archive:   archive,
		Metrics:   mw,
		Events:    hub,
		Tokenizer: dataset.IDDecoder{},
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	if !noServers {
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})
			mux.Handle("/metrics", promhttp.Handler())
			return serve(serveCtx, &http.Server{
				Addr:              fmt.Sprintf(":%d", settings.MetricsPort),
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}, "metrics")
		})
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/events", hub)
			err := serve(serveCtx, &http.Server{
				Addr:              fmt.Sprintf(":%d", settings.EventsPort),
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}, "events")
			// Shutdown leaves hijacked websocket connections open.
			hub.Close()
			return err
		})
	}

	g.Go(func() error {
		defer stopServing()
		_, summary, err := selftrain.Run(gctx, rc, data, construct, deps)
		if err != nil {
			return err
		}
		return writeSummary(summary)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Str("run_id", runID).Str("model_dir", settings.ModelDir).Msg("Training complete")
	return nil
}

// loadData reads the three data files and splits the labeled set into train
// and dev partitions.
func loadData(s cfg.Settings) (selftrain.Data, int, error) {
	labeled, err := dataset.LoadLabeled(s.LabeledPath)
	if err != nil {
		return selftrain.Data{}, 0, err
	}
	test, err := dataset.LoadLabeled(s.TestPath)
	if err != nil {
		return selftrain.Data{}, 0, err
	}
	unlabeled, err := dataset.LoadUnlabeled(s.UnlabeledPath)
	if err != nil {
		return selftrain.Data{}, 0, err
	}

	classes := s.Classes
	if classes == 0 {
		classes = dataset.ClassCount(labeled.Y, test.Y)
		log.Info().Int("classes", classes).Msg("Inferred class count from labels")
	}
	if classes < 2 {
		return selftrain.Data{}, 0, fmt.Errorf("need at least 2 classes, got %d", classes)
	}

	if err := labeled.Validate(s.MaxSeqLength, classes); err != nil {
		return selftrain.Data{}, 0, fmt.Errorf("labeled data: %w", err)
	}
	if err := test.Validate(s.MaxSeqLength, classes); err != nil {
		return selftrain.Data{}, 0, fmt.Errorf("test data: %w", err)
	}
	if err := unlabeled.Validate(s.MaxSeqLength); err != nil {
		return selftrain.Data{}, 0, fmt.Errorf("unlabeled data: %w", err)
	}

	train, dev := dataset.Split(labeled, s.ValidSplit, test)
	if s.ValidSplit == 0 {
		log.Warn().Msg("Valid split is 0, using the test set for validation")
	}
	log.Info().
		Int("train", train.Len()).
		Int("dev", dev.Len()).
		Int("test", test.Len()).
		Int("unlabeled", unlabeled.Len()).
		Ints("train_per_class", dataset.Histogram(train.Y, classes)).
		Msg("Data loaded")

	return selftrain.Data{Train: train, Dev: dev, Test: test, Unlabeled: unlabeled}, classes, nil
}

func writeSummary(summary selftrain.Summary) error {
	if summaryOut == "" {
		return nil
	}
	// Per-iteration records are already in the archive.
	summary.Records = nil
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(summaryOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	log.Info().Str("path", summaryOut).Msg("Summary written")
	return nil
}
