package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-recall-search/config"
	"github.com/goliatone/go-recall-search/pkg/di"
	"github.com/goliatone/go-recall-search/search"
)

// ErrLocalCache is returned by cache administration commands when the
// configured backend lives inside each server process.
var ErrLocalCache = errors.New("the cache backend is local to each process; use the redis backend to administer a running server")

// sharedCacheContainer builds a container for commands that change cache
// state other processes read.
func (o *RootOptions) sharedCacheContainer() (*di.Container, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Backend != config.CacheRedis {
		return nil, fmt.Errorf("cache.backend %q: %w", cfg.Cache.Backend, ErrLocalCache)
	}
	return o.newContainer(*cfg)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the recalls table and its indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.container()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
}

// NewEpochCommand creates the epoch command group.
func NewEpochCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epoch",
		Short: "Manage the cache epoch",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "bump",
		Short: "Invalidate every cached page by advancing the epoch",
		Long: `Advance the cache epoch. Run it after bulk loads so no page cached
before the load is served again.

Requires the redis cache backend; memory and none caches live inside each
server process and cannot be reached from here.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.sharedCacheContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			epoch, err := c.Search().BumpEpoch(cmd.Context())
			if err != nil {
				return fmt.Errorf("bump epoch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "epoch %d\n", epoch)
			return nil
		},
	})

	return cmd
}

// InvalidateOptions holds flags for cache invalidate.
type InvalidateOptions struct {
	*RootOptions
	Fingerprint string
	Request     search.Request
	Limit       int
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate the page cache",
	}

	opts := &InvalidateOptions{RootOptions: rootOpts}
	invalidate := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop the cached pages of one filter",
		Long: `Drop every cached page of one filter in the current epoch.

The filter is given either as its fingerprint or with the same fields a search
request uses. Requires the redis cache backend.

Example:
  recallsearch cache invalidate --fingerprint 3f0c...
  recallsearch cache invalidate --product stroller --limit 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvalidate(cmd, opts)
		},
	}

	f := invalidate.Flags()
	f.StringVar(&opts.Fingerprint, "fingerprint", "", "filter fingerprint")
	f.StringVar(&opts.Request.Product, "product", "", "product text")
	f.StringSliceVar(&opts.Request.Agencies, "agency", nil, "agency, repeatable")
	f.StringVar(&opts.Request.DateFrom, "date-from", "", "first recall date, YYYY-MM-DD")
	f.StringVar(&opts.Request.DateTo, "date-to", "", "last recall date, YYYY-MM-DD")
	f.StringVar(&opts.Request.RiskLevel, "risk", "", "risk level")
	f.StringVar(&opts.Request.Category, "category", "", "category")
	f.IntVar(&opts.Limit, "limit", 0, "page size, defaults to the search default")
	f.BoolVar(&opts.Request.Browse, "browse", false, "unconstrained browse filter")

	cmd.AddCommand(invalidate)
	return cmd
}

func runInvalidate(cmd *cobra.Command, opts *InvalidateOptions) error {
	fingerprint := opts.Fingerprint
	if fingerprint == "" {
		req := opts.Request
		if cmd.Flags().Changed("limit") {
			req.Limit = &opts.Limit
		}
		filter, err := req.Filter()
		if err != nil {
			return err
		}
		if err := filter.Validate(); err != nil {
			return err
		}
		fingerprint = filter.Normalized().Fingerprint()
	}

	c, err := opts.sharedCacheContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Search().InvalidateFilter(cmd.Context(), fingerprint)
	if errors.Is(err, search.ErrCacheUnavailable) {
		return fmt.Errorf("cache epoch could not be read: %w", err)
	}
	if err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "fingerprint %s: %d entries removed\n", fingerprint, n)
	return nil
}
