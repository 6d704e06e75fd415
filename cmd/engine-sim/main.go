// Command engine-sim stands in for a set of SPDZ engines so a dtree-client
// run can be exercised end to end without an MPC deployment.
//
// It reads the same configuration as the client, derives the expected
// exchanges from the client's partition and serves them as a trusted dealer.
//
//	engine-sim 0 3 bank_marketing_data 20000 &
//	dtree-client train 0 3 bank_marketing_data 20000
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pivot-spdz/dtree-client/internal/config"
	"github.com/pivot-spdz/dtree-client/internal/dataset"
	"github.com/pivot-spdz/dtree-client/internal/enginesim"
	"github.com/pivot-spdz/dtree-client/pkg/logging"
	"github.com/pivot-spdz/dtree-client/pkg/training"
)

type simFlags struct {
	cfgFile   string
	listen    string
	corruptAt int
	bestSplit int64
	shares    []float64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "engine-sim:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var f simFlags

	cmd := &cobra.Command{
		Use:           "engine-sim [client-id engine-count [dataset [port-base]]]",
		Short:         "Simulate SPDZ engines for one dtree-client run",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 || len(args) > 4 {
				return fmt.Errorf("want [client-id engine-count [dataset [port-base]]], got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyArgs(v, args); err != nil {
				return err
			}
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v, f.cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, f)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.cfgFile, "config", "c", "", "config file shared with the client")
	fs.StringVar(&f.listen, "listen", "127.0.0.1", "host the simulated engines listen on")
	fs.IntVar(&f.corruptAt, "corrupt-at", -1, "break the triple of this private input (-1 disables)")
	fs.Int64Var(&f.bestSplit, "best-split", 0, "best split index returned to the client")
	fs.Float64SliceVar(&f.shares, "shares", nil, "model shares returned before the best split")
	config.RegisterFlags(fs)
	return cmd
}

func applyArgs(v interface{ Set(string, any) }, args []string) error {
	if len(args) == 0 {
		return nil
	}
	keys := []string{"client.id", "engines.count", "data.dataset", "engines.port_base"}
	for i, arg := range args {
		if i == 2 {
			v.Set(keys[i], arg)
			continue
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%s: %w", keys[i], err)
		}
		v.Set(keys[i], n)
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, f simFlags) error {
	log := logging.Component(logging.New(slog.New(slog.NewTextHandler(os.Stderr, nil))), "engine-sim")

	params, err := cfg.FieldParams()
	if err != nil {
		return err
	}

	part, err := dataset.Load(dataset.Path(cfg.Data.Root, cfg.Data.Dataset, cfg.Client.ID), cfg.LabelHolder())
	if err != nil {
		return err
	}
	tcfg := training.Config{
		ClientID:       cfg.Client.ID,
		MaxSplits:      cfg.Training.MaxSplits,
		TrainFraction:  cfg.Training.TrainFraction,
		OutputSize:     cfg.Training.OutputSize,
		BatchSize:      cfg.Training.BatchSize,
		AnnounceParams: cfg.Training.AnnounceParams,
		TreeType:       cfg.Training.TreeType,
	}
	plan, err := training.Plan(tcfg, part)
	if err != nil {
		return err
	}
	if len(f.shares) >= cfg.Training.OutputSize {
		return fmt.Errorf("--shares gives %d values, training.output_size leaves room for %d", len(f.shares), cfg.Training.OutputSize-1)
	}

	log.Info(ctx, "waiting for client", "host", f.listen, "port_base", cfg.Engines.PortBase, "engines", cfg.Engines.Count)
	links, party, err := enginesim.ListenTCP(ctx, f.listen, cfg.Engines.PortBase, cfg.Engines.Count)
	if err != nil {
		return err
	}
	if int(party) != cfg.Client.ID {
		for _, l := range links {
			_ = l.Close()
		}
		return fmt.Errorf("client announced id %d, expected %d", party, cfg.Client.ID)
	}

	cluster, err := enginesim.New(params, links, enginesim.Options{
		BatchSize: cfg.Training.BatchSize,
		CorruptAt: f.corruptAt,
		Shares:    f.shares,
		BestSplit: f.bestSplit,
		Log:       log,
	})
	if err != nil {
		return err
	}
	defer cluster.Close()

	if err := cluster.Serve(ctx, plan); err != nil {
		return err
	}
	rec := cluster.Record()
	for _, seg := range plan {
		log.Info(ctx, "segment received", "state", seg.State.String(), "values", len(rec.Segments[seg.State]))
	}
	log.Info(ctx, "run served", "private", len(rec.Private), "public", len(rec.Public))
	return nil
}
