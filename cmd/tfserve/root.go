package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/transcriptformer/tfserve/internal/config"
	"github.com/transcriptformer/tfserve/internal/logging"
	"github.com/transcriptformer/tfserve/internal/predictor"
	"github.com/transcriptformer/tfserve/internal/registry"
)

// version is set at build time via -ldflags.
var version = "dev"

// app holds what every subcommand needs once flags are parsed.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        config.Config
	logger     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New(), logger: zerolog.Nop()}
	root := &cobra.Command{
		Use:   "tfserve",
		Short: "Serve Transcriptformer single-cell models and provision evaluation datasets",
		Long: "tfserve wraps the transcriptformer inference executable behind a CLI and an HTTP\n" +
			"service, and downloads, caches and filters the Tabula Sapiens evaluation datasets.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.Version = version

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "optional YAML config file")
	flags.String("log-format", "json", "log format: json|console|discard")
	flags.String("log-level", "info", "log level: debug|info|warn|error")
	flags.String("executable", predictor.DefaultExecutable, "transcriptformer executable name or path")

	root.AddCommand(newPackageCmd(a))
	root.AddCommand(newPredictCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newDatasetsCmd(a))
	return root
}

// init binds the executed command's flags to their config keys, so only
// flags set on the command line override file and environment values.
func (a *app) init(cmd *cobra.Command) error {
	if err := bindFlags(a.v, cmd); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for _, key := range config.Keys() {
		flag := cmd.Flags().Lookup(strings.ReplaceAll(key, "_", "-"))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %q: %w", flag.Name, err)
		}
	}
	return nil
}

// loadAdapter opens the model package at cfg.ModelPath. extra options are
// applied after the config-derived ones.
func (a *app) loadAdapter(extra ...predictor.Option) (*predictor.Adapter, error) {
	if strings.TrimSpace(a.cfg.ModelPath) == "" {
		return nil, fmt.Errorf("%w: --model-path is required", predictor.ErrConfiguration)
	}
	opts := []predictor.Option{
		predictor.WithExecutable(a.cfg.Executable),
		predictor.WithLogger(a.logger),
	}
	if a.cfg.Embedding != "" {
		opts = append(opts, predictor.WithEmbedding(a.cfg.Embedding))
	}
	return registry.LoadContext(a.cfg.ModelPath, append(opts, extra...)...)
}
