package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pivot-spdz/dtree-client/internal/config"
	"github.com/pivot-spdz/dtree-client/internal/dataset"
	"github.com/pivot-spdz/dtree-client/internal/metrics"
	"github.com/pivot-spdz/dtree-client/pkg/logging"
	"github.com/pivot-spdz/dtree-client/pkg/sharechan"
	"github.com/pivot-spdz/dtree-client/pkg/sharechan/tcpnet"
	"github.com/pivot-spdz/dtree-client/pkg/training"
)

// addTrainCmd runs one training session.
func addTrainCmd(root *cobra.Command, v *viper.Viper, load func(*cobra.Command) (*config.Config, error)) {
	root.AddCommand(&cobra.Command{
		Use:   "train [client-id engine-count [dataset [port-base]]]",
		Short: "Share the local partition with the engines and wait for the result",
		Args:  positionalArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyArgs(v, args); err != nil {
				return err
			}
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			res, err := train(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "best split index: %d\n", res.BestSplit)
			if len(res.Shares) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "result shares: %v\n", res.Shares)
			}
			return nil
		},
	})
}

func train(ctx context.Context, cfg *config.Config) (*training.Result, error) {
	run, err := logging.Open(logging.Options{
		Dir:     cfg.Log.Path,
		Dataset: cfg.Data.Dataset,
		Party:   cfg.Client.ID,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
	})
	if err != nil {
		return nil, err
	}
	defer run.Close()
	log := run.Logger

	params, err := cfg.FieldParams()
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "field initialised", "params", params.String())

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		srv, err := serveMetrics(ctx, cfg.Metrics.Listen, m, log)
		if err != nil {
			return nil, err
		}
		defer srv.Close()
		log.Info(ctx, "serving metrics", "addr", cfg.Metrics.Listen)
	}

	dial := func(ctx context.Context) (training.Channel, error) {
		tr, err := tcpnet.Dial(ctx, tcpnet.Config{
			Hosts:       cfg.EngineHosts(),
			PortBase:    cfg.Engines.PortBase,
			PartyID:     uint32(cfg.Client.ID),
			DialTimeout: cfg.Engines.DialTimeout,
			DialRetry:   cfg.Engines.DialRetry,
		})
		if err != nil {
			return nil, err
		}
		ch, err := sharechan.New(tr, cfg.Engines.Count, sharechan.WithTimeout(cfg.Engines.OpTimeout))
		if err != nil {
			_ = tr.Close()
			return nil, err
		}
		return ch, nil
	}
	loadData := func(context.Context) (*dataset.Partition, error) {
		return dataset.Load(dataset.Path(cfg.Data.Root, cfg.Data.Dataset, cfg.Client.ID), cfg.LabelHolder())
	}

	orch, err := training.New(trainingConfig(cfg), params, dial, loadData,
		training.WithLogger(log),
		training.WithObserver(m),
		training.WithRecorder(m),
	)
	if err != nil {
		return nil, err
	}
	return orch.Run(ctx)
}

func trainingConfig(cfg *config.Config) training.Config {
	return training.Config{
		ClientID:       cfg.Client.ID,
		MaxSplits:      cfg.Training.MaxSplits,
		TrainFraction:  cfg.Training.TrainFraction,
		OutputSize:     cfg.Training.OutputSize,
		BatchSize:      cfg.Training.BatchSize,
		AnnounceParams: cfg.Training.AnnounceParams,
		TreeType:       cfg.Training.TreeType,
	}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log logging.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "metrics server stopped", "error", err)
		}
	}()
	return srv, nil
}
