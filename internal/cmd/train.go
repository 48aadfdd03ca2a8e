package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/unixpickle/styletransfer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a style transfer model",
	Long: `Train a model on one corpus per style. Style 1 sentences get label 0
and style 2 sentences get label 1.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	flags := trainCmd.Flags()
	flags.String("train-file-style1", "", "training sentences of style 1, one per line")
	flags.String("train-file-style2", "", "training sentences of style 2, one per line")
	flags.String("evaluation-file-style1", "", "validation sentences of style 1")
	flags.String("evaluation-file-style2", "", "validation sentences of style 2")
	flags.String("vocabulary", "", "vocabulary file, one token per line")
	flags.String("savefile", "", "path for model checkpoints")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	mustBindPFlag("train.style1", flags.Lookup("train-file-style1"))
	mustBindPFlag("train.style2", flags.Lookup("train-file-style2"))
	mustBindPFlag("evaluation.style1", flags.Lookup("evaluation-file-style1"))
	mustBindPFlag("evaluation.style2", flags.Lookup("evaluation-file-style2"))
	mustBindPFlag("vocabulary", flags.Lookup("vocabulary"))
	mustBindPFlag("params.save_file", flags.Lookup("savefile"))
	mustBindPFlag("metrics_addr", flags.Lookup("metrics-addr"))
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	params := paramsFrom(viper.GetViper())
	if err := params.Validate(); err != nil {
		return err
	}
	vocab, err := styletransfer.LoadVocabulary(viper.GetString("vocabulary"), params.EmbeddingSize)
	if err != nil {
		return err
	}
	model, err := styletransfer.NewModel(params, vocab)
	if err != nil {
		return err
	}
	train, closeTrain, err := openBatches(params, viper.GetString("train.style1"),
		viper.GetString("train.style2"))
	if err != nil {
		return err
	}
	defer closeTrain()

	var valid styletransfer.BatchSource
	if style1 := viper.GetString("evaluation.style1"); style1 != "" {
		var closeValid func()
		valid, closeValid, err = openBatches(params, style1, viper.GetString("evaluation.style2"))
		if err != nil {
			return err
		}
		defer closeValid()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	trainer, err := styletransfer.NewTrainer(model, params, logger,
		styletransfer.NewMetrics(reg))
	if err != nil {
		return err
	}

	logger.Info("starting training",
		zap.Int("vocabulary", vocab.Len()),
		zap.Int("epochs", params.Epochs),
		zap.Int("batchSize", params.BatchSize))

	group, ctx := errgroup.WithContext(ctx)
	trainCtx, stopMetrics := context.WithCancel(ctx)
	if addr := viper.GetString("metrics_addr"); addr != "" {
		server := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-trainCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	group.Go(func() error {
		defer stopMetrics()
		return trainer.Train(trainCtx, train, valid)
	})
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("training complete", zap.Int("steps", trainer.Steps()))
	return nil
}

// openBatches creates the batch source selected by
// params.InMemory along with a function to release it.
func openBatches(params *styletransfer.Params, style1,
	style2 string) (styletransfer.BatchSource, func(), error) {
	if params.InMemory {
		b, err := styletransfer.LoadMemoryBatches(style1, style2, params.BatchSize)
		return b, func() {}, err
	}
	b, err := styletransfer.NewStreamBatches(style1, style2, params.BatchSize)
	if err != nil {
		return nil, nil, err
	}
	return b, func() { _ = b.Close() }, nil
}
