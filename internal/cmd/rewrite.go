package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/unixpickle/styletransfer"
	"go.uber.org/zap"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Rewrite sentences into the opposite style",
	Long: `Decode every sentence of an input file with its own style and with
the opposite style. Each output line holds the original reconstruction and
the transferred sentence, separated by a tab.`,
	RunE: runRewrite,
}

func init() {
	rootCmd.AddCommand(rewriteCmd)

	flags := rewriteCmd.Flags()
	flags.String("model", "", "model checkpoint written by train")
	flags.String("input-file", "", "sentences to rewrite, one per line")
	flags.Int("label", 0, "style label of the input sentences (0 or 1)")

	mustBindPFlag("rewrite.model", flags.Lookup("model"))
	mustBindPFlag("rewrite.input", flags.Lookup("input-file"))
	mustBindPFlag("rewrite.label", flags.Lookup("label"))
}

func runRewrite(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	params := paramsFrom(viper.GetViper())
	model, err := styletransfer.LoadModel(viper.GetString("rewrite.model"))
	if err != nil {
		return err
	}
	model.SetTraining(false)
	decoder, err := styletransfer.NewBeamDecoder(model, params)
	if err != nil {
		return err
	}
	sentences, err := styletransfer.ReadLines(viper.GetString("rewrite.input"))
	if err != nil {
		return err
	}
	logger.Info("rewriting", zap.Int("sentences", len(sentences)))
	return rewriteAll(ctx, cmd, decoder, sentences, viper.GetInt("rewrite.label"),
		params.BatchSize)
}

// rewriteAll decodes sentences in chunks of batchSize and
// prints the results in input order.
func rewriteAll(ctx context.Context, cmd *cobra.Command, d *styletransfer.BeamDecoder,
	sentences []string, label, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 1
	}
	for start := 0; start < len(sentences); start += batchSize {
		end := start + batchSize
		if end > len(sentences) {
			end = len(sentences)
		}
		chunk := sentences[start:end]
		labels := make([]int, len(chunk))
		for i := range labels {
			labels[i] = label
		}
		original, transformed, err := d.Rewrite(ctx, chunk, labels)
		if err != nil {
			return err
		}
		for i := range chunk {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", original[i], transformed[i])
		}
	}
	return nil
}
