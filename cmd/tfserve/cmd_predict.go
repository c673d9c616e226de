package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/transcriptformer/tfserve/internal/predictor"
)

func newPredictCmd(a *app) *cobra.Command {
	var (
		inputFile string
		params    predictor.Parameters
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run one prediction against a model package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if params.BatchSize < 0 {
				return fmt.Errorf("%w: --batch-size must be > 0", predictor.ErrInvalidParameter)
			}
			opts := []predictor.Option{
				predictor.WithRunner(predictor.ProcessRunner{Stdout: cmd.ErrOrStderr()}),
			}
			if a.cfg.PredictTimeout > 0 {
				opts = append(opts, predictor.WithTimeout(a.cfg.PredictTimeout))
			}
			adapter, err := a.loadAdapter(opts...)
			if err != nil {
				return err
			}
			req, err := predictor.NewPredictionRequest(inputFile, params)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			result, err := adapter.Predict(ctx, req)
			if err != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					return fmt.Errorf("prediction interrupted: %w", err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.OutputFile)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.String("model-path", "", "model package directory written by `tfserve package`")
	flags.String("pretrained-embedding", "", "embedding to bind at load time, overriding the packaged one")
	flags.StringVar(&inputFile, "input-file", "", "input .h5ad file")
	flags.StringVar(&params.OutputFile, "output-file", "", "where the executable writes its output")
	flags.IntVar(&params.BatchSize, "batch-size", 0, "inference batch size; 0 uses the variant default")
	flags.StringVar(&params.GeneColName, "gene-col-name", "", "gene identifier column (default "+predictor.DefaultGeneColName+")")
	flags.StringVar(&params.Precision, "precision", "", "numeric precision (default "+predictor.DefaultPrecision+")")
	_ = cmd.MarkFlagRequired("input-file")
	_ = cmd.MarkFlagRequired("output-file")
	return cmd
}
