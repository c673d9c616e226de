package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/transcriptformer/tfserve/internal/config"
	"github.com/transcriptformer/tfserve/internal/datasets"
)

func newDatasetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List and download the evaluation datasets",
	}
	cmd.AddCommand(newDatasetsListCmd(a))
	cmd.AddCommand(newDatasetsFetchCmd(a))
	return cmd
}

// addDatasetFlags registers the dataset cache settings on cmd.
func addDatasetFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("dataset-catalog", "", "YAML catalog merged over the built-in datasets")
	flags.String("dataset-cache", config.CachePresence, "cache validation: presence|checksum|ttl")
	flags.Duration("dataset-cache-ttl", 7*24*time.Hour, "maximum cache age for the ttl cache")
}

// datasetStack builds the catalog and provider from the loaded config.
func (a *app) datasetStack() (*datasets.Catalog, *datasets.Provider, error) {
	var overlays []string
	if path := strings.TrimSpace(a.cfg.DatasetCatalog); path != "" {
		overlays = append(overlays, path)
	}
	catalog, err := datasets.LoadCatalog(overlays...)
	if err != nil {
		return nil, nil, err
	}
	strategy, err := a.cfg.CacheStrategy()
	if err != nil {
		return nil, nil, err
	}
	provider := datasets.NewProvider(
		datasets.WithCacheStrategy(strategy),
		datasets.WithLogger(a.logger),
	)
	return catalog, provider, nil
}

func newDatasetsListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the dataset catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, _, err := a.datasetStack()
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "NAME", "FORMAT", "VERSIONS", "DEFAULT CACHE PATH", "URL")
			for _, name := range catalog.Names() {
				spec, err := catalog.Lookup(name)
				if err != nil {
					return err
				}
				versions := "-"
				if spec.VersionFilter != nil {
					versions = strings.Join(spec.VersionFilter.VersionNames(), ",")
				}
				table.Append([]string{spec.Name, spec.Format, versions, spec.DefaultCachePath, spec.BackupURL})
			}
			table.Render()
			return nil
		},
	}
	addDatasetFlags(cmd)
	return cmd
}

type fetchFlags struct {
	version string
	force   bool
	path    string
	all     bool
	jobs    int
}

func newDatasetsFetchCmd(a *app) *cobra.Command {
	var opts fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch <name>...",
		Short: "Download, validate and filter datasets into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, provider, err := a.datasetStack()
			if err != nil {
				return err
			}
			names := args
			if opts.all {
				if len(args) > 0 {
					return fmt.Errorf("--all does not take dataset names")
				}
				names = catalog.Names()
			}
			if len(names) == 0 {
				return fmt.Errorf("name at least one dataset or pass --all")
			}
			if opts.path != "" && len(names) > 1 {
				return fmt.Errorf("--path needs exactly one dataset, got %d", len(names))
			}
			specs := make([]datasets.DatasetSpec, len(names))
			for i, name := range names {
				spec, err := catalog.Lookup(name)
				if err != nil {
					return err
				}
				specs[i] = spec
			}

			results := make([]*datasets.CachedDataset, len(specs))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(opts.jobs, 1))
			for i, spec := range specs {
				i, spec := i, spec
				g.Go(func() error {
					cached, err := provider.Fetch(ctx, spec, datasets.FetchOptions{
						Path:          opts.path,
						ForceDownload: opts.force,
						Version:       opts.version,
					})
					if err != nil {
						return fmt.Errorf("fetch %s: %w", spec.Name, err)
					}
					results[i] = cached
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			table := newTable(cmd.OutOrStdout(), "NAME", "VERSION", "ROWS", "COLUMNS", "DOWNLOADED", "PATH")
			for _, cached := range results {
				shape := cached.Table.Shape()
				version := cached.Version
				if version == "" {
					version = "-"
				}
				table.Append([]string{
					cached.Spec.Name,
					version,
					strconv.Itoa(shape.Rows),
					strconv.Itoa(shape.Columns),
					strconv.FormatBool(cached.Downloaded),
					cached.Path,
				})
			}
			table.Render()
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.version, "version", "", "filter version; empty uses each dataset's default")
	flags.BoolVar(&opts.force, "force", false, "discard the cached copy and download again")
	flags.StringVar(&opts.path, "path", "", "cache file to use instead of the default location")
	flags.BoolVar(&opts.all, "all", false, "fetch every catalog dataset")
	flags.IntVar(&opts.jobs, "jobs", 2, "datasets fetched at once")
	addDatasetFlags(cmd)
	return cmd
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	return table
}
