package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lsfts/internal/common"
	"lsfts/internal/ml"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	servePort   int
	serveConfig ml.ModelConfig

	serveModelCmd = &cobra.Command{
		Use:   "serve-model",
		Short: "Serve the reference classifier over HTTP for MODEL_URL",
		Long: `Starts an HTTP model server. Training runs pointed at it with MODEL_URL drive
this process's model; POST /v1/reset rebuilds it for every base candidate.
Weight paths are read and written on this machine, so the training process and
the server must share the model directory.`,
		Args: cobra.NoArgs,
		RunE: runServeModel,
	}
)

func init() {
	f := serveModelCmd.Flags()
	f.IntVar(&servePort, "port", common.DefaultModelPort, "Listen port")
	f.IntVar(&serveConfig.Classes, "classes", 2, "Number of classes of the initial model")
	f.IntVar(&serveConfig.HashDim, "hash-dim", common.DefaultHashDim, "Hashed feature dimension of the initial model")
	f.Float64Var(&serveConfig.DenseDropout, "dense-dropout", common.DefaultDenseDropout, "Dropout rate of the initial model")
	f.Uint64Var(&serveConfig.Seed, "seed", common.DefaultSeed, "Seed of the initial model")
}

func runServeModel(cmd *cobra.Command, _ []string) error {
	if servePort < common.MinPort || servePort > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, servePort)
	}
	model, err := ml.NewSoftmaxClassifier(serveConfig)
	if err != nil {
		return err
	}
	server := ml.NewServer(model, servePort).WithConstructor(ml.SoftmaxConstructor)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
