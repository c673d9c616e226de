package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/transcriptformer/tfserve/internal/registry"
)

func newPackageCmd(a *app) *cobra.Command {
	var spec registry.PackageSpec
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Write a model package for a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := registry.Save(spec)
			if err != nil {
				return err
			}
			a.logger.Info().
				Str("variant", spec.Variant).
				Str("dir", dir).
				Bool("embedding", spec.EmbeddingPath != "").
				Msg("model_packaged")
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&spec.Variant, "model-variant", "", "model variant, e.g. tf_sapiens, tf_exemplar or tf_metazoa")
	flags.StringVar(&spec.CheckpointPath, "checkpoint-path", "", "path to the model checkpoint")
	flags.StringVar(&spec.EmbeddingPath, "pretrained-embedding", "", "optional pretrained embedding to bundle")
	flags.StringVar(&spec.OutputDir, "output-dir", ".", "directory the package is written under")
	flags.StringVar(&spec.Requirements, "requirements", "", "optional requirements file copied into the package")
	_ = cmd.MarkFlagRequired("model-variant")
	_ = cmd.MarkFlagRequired("checkpoint-path")
	return cmd
}
