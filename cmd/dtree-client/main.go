// Command dtree-client contributes a local data partition to secure decision
// tree training run by a set of SPDZ engines.
//
//	dtree-client train 0 3 bank_marketing_data 20000
//
// Positional arguments are client id, engine count, dataset name and engine
// port base. Each overrides the matching configuration key.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pivot-spdz/dtree-client/internal/config"
	"github.com/pivot-spdz/dtree-client/internal/version"
	"github.com/pivot-spdz/dtree-client/pkg/training"
)

const (
	exitFailure        = 1
	exitTripleMismatch = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "dtree-client:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps run errors to process exit codes.
func exitCode(err error) int {
	if training.IsTripleMismatch(err) {
		return exitTripleMismatch
	}
	return exitFailure
}

func newRootCmd(out io.Writer) *cobra.Command {
	v := config.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "dtree-client",
		Short:         "SPDZ external client for secure decision tree training",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml, toml or json)")
	config.RegisterFlags(root.PersistentFlags())

	load := func(cmd *cobra.Command) (*config.Config, error) {
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return nil, err
		}
		return config.Load(v, cfgFile)
	}

	addTrainCmd(root, v, load)
	addConfigCmd(root, v, load)
	addVersionCmd(root)
	return root
}

// addConfigCmd prints the effective configuration.
func addConfigCmd(root *cobra.Command, v *viper.Viper, load func(*cobra.Command) (*config.Config, error)) {
	root.AddCommand(&cobra.Command{
		Use:   "config [client-id engine-count [dataset [port-base]]]",
		Short: "Print the effective configuration as YAML",
		Args:  positionalArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyArgs(v, args); err != nil {
				return err
			}
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return cfg.Dump(cmd.OutOrStdout())
		},
	})
}

func addVersionCmd(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full("dtree-client"))
		},
	})
}
