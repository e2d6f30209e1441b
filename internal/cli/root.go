package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-recall-search/config"
	"github.com/goliatone/go-recall-search/pkg/di"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string

	// LookupEnv resolves RECALL_* overrides. Nil uses the process environment.
	LookupEnv func(string) (string, bool)

	// ContainerOptions are passed to every container the commands build.
	ContainerOptions []di.Option
}

// NewRootCommand creates the root command for the recall search service.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recallsearch",
		Short: "Paginated recall search service",
		Long: `Serve and operate the recall search API.

Configuration is read from the file given with --config and then overridden
by RECALL_* environment variables. RECALL_CURSOR_SECRET is always required.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewEpochCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	lookup := o.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg, err := config.LoadWithEnv(o.ConfigPath, lookup)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *RootOptions) container() (*di.Container, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return o.newContainer(*cfg)
}

func (o *RootOptions) newContainer(cfg config.Config) (*di.Container, error) {
	c, err := di.NewContainer(cfg, o.ContainerOptions...)
	if err != nil {
		return nil, fmt.Errorf("building service: %w", err)
	}
	return c, nil
}
