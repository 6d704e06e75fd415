// Package training sequences a client's contribution to secure decision tree
// training.
//
// A run connects to the engines, loads the local partition and then shares,
// in a fixed order the engines depend on:
//
//  1. raw feature values, sample by sample (fixed-point);
//  2. labels and per-class indicator vectors (label holder only);
//  3. optionally, public training parameters;
//  4. the K+1 split parameter slots of every feature (fixed-point);
//  5. per feature, all left indicator vectors, then all right ones.
//
// It finally waits for the aggregated result. Any failure aborts the run;
// there is no resume, a new run must start from scratch.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pivot-spdz/dtree-client/internal/dataset"
	"github.com/pivot-spdz/dtree-client/pkg/binning"
	"github.com/pivot-spdz/dtree-client/pkg/field"
	"github.com/pivot-spdz/dtree-client/pkg/indicator"
	"github.com/pivot-spdz/dtree-client/pkg/input"
	"github.com/pivot-spdz/dtree-client/pkg/logging"
)

// Channel is the engine connection owned by a run.
type Channel interface {
	input.Channel
	Close() error
}

// DialFunc opens the channel to the engines.
type DialFunc func(ctx context.Context) (Channel, error)

// LoadFunc reads the local partition.
type LoadFunc func(ctx context.Context) (*dataset.Partition, error)

// Observer is notified of state changes. internal/metrics implements it.
type Observer interface {
	StateEntered(s State)
	PhaseDone(s State, d time.Duration)
}

// Config holds the protocol parameters every client and engine agree on.
type Config struct {
	// ClientID 0 is the label holder.
	ClientID      int
	MaxSplits     int
	TrainFraction float64
	OutputSize    int
	BatchSize     int

	// AnnounceParams broadcasts TreeType, the total split count and the
	// class count before the split parameters.
	AnnounceParams bool
	TreeType       int
}

// DefaultConfig returns the settings of the reference deployment.
func DefaultConfig(clientID int) Config {
	return Config{
		ClientID:      clientID,
		MaxSplits:     binning.DefaultMaxSplits,
		TrainFraction: dataset.DefaultTrainFraction,
		OutputSize:    1,
		BatchSize:     input.DefaultBatchSize,
	}
}

func (c Config) validate() error {
	switch {
	case c.ClientID < 0:
		return fmt.Errorf("%w: client id %d", ErrInvalidConfig, c.ClientID)
	case c.MaxSplits < 1:
		return fmt.Errorf("%w: max splits %d", ErrInvalidConfig, c.MaxSplits)
	case c.TrainFraction <= 0 || c.TrainFraction > 1:
		return fmt.Errorf("%w: train fraction %v", ErrInvalidConfig, c.TrainFraction)
	case c.OutputSize < 1:
		return fmt.Errorf("%w: output size %d", ErrInvalidConfig, c.OutputSize)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch size %d", ErrInvalidConfig, c.BatchSize)
	}
	return nil
}

// LabelHolder reports whether the client shares labels.
func (c Config) LabelHolder() bool { return c.ClientID == 0 }

// Result summarises a completed run.
type Result struct {
	BestSplit int64
	Shares    []float64

	Samples  int
	Features int
	// Classes is empty for clients without labels.
	Classes []float64
	Splits  []binning.SplitList
	Elapsed time.Duration
}

// Orchestrator drives one training run. It is single use.
type Orchestrator struct {
	cfg    Config
	params *field.Params
	dial   DialFunc
	load   LoadFunc

	log      logging.Logger
	observer Observer
	recorder input.Recorder

	state     atomic.Int32
	started   atomic.Bool
	stateFrom time.Time
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the run logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver registers a state observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithRecorder forwards protocol counters to r.
func WithRecorder(r input.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// New returns an orchestrator. params must be the field shared by all
// parties.
func New(cfg Config, params *field.Params, dial DialFunc, load LoadFunc, opts ...Option) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if params == nil || dial == nil || load == nil {
		return nil, fmt.Errorf("%w: params, dial and load are required", ErrInvalidConfig)
	}
	o := &Orchestrator{
		cfg:    cfg,
		params: params,
		dial:   dial,
		load:   load,
		log:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.state.Store(int32(Connecting))
	return o, nil
}

// State returns the current state. It may be called from any goroutine.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

func (o *Orchestrator) enter(ctx context.Context, s State) {
	now := time.Now()
	prev := o.State()
	if !o.stateFrom.IsZero() && o.observer != nil {
		o.observer.PhaseDone(prev, now.Sub(o.stateFrom))
	}
	o.stateFrom = now
	o.state.Store(int32(s))
	if o.observer != nil {
		o.observer.StateEntered(s)
	}
	o.log.Debug(ctx, "state", "from", prev, "to", s)
}

// Run executes the whole protocol. On failure the channel is closed, the
// orchestrator ends in Aborted and the returned error is a *Error naming
// the failing state.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	start := time.Now()
	var ch Channel

	fail := func(err error) (*Result, error) {
		failed := o.State()
		if ch != nil {
			if cerr := ch.Close(); cerr != nil {
				o.log.Warn(ctx, "closing engine channel", "err", cerr)
			}
		}
		o.enter(ctx, Aborted)
		o.log.Error(ctx, "training aborted", "state", failed, "err", err)
		return nil, &Error{State: failed, Err: err}
	}

	o.enter(ctx, Connecting)
	ch, err := o.dial(ctx)
	if err != nil {
		ch = nil
		return fail(err)
	}
	o.log.Info(ctx, "connected to engines", "engines", ch.Engines())

	o.enter(ctx, LoadingData)
	part, err := o.load(ctx)
	if err != nil {
		return fail(err)
	}
	train, err := o.trainingRows(part)
	if err != nil {
		return fail(err)
	}
	o.log.Info(ctx, "partition loaded",
		"samples", part.Samples(), "training_samples", train.Samples(), "features", train.Features())

	txOpts := []input.Option{input.WithBatchSize(o.cfg.BatchSize), input.WithLogger(o.log)}
	if o.recorder != nil {
		txOpts = append(txOpts, input.WithRecorder(o.recorder))
	}
	tx, err := input.NewTransmitter(ch, o.params, txOpts...)
	if err != nil {
		return fail(err)
	}

	res := &Result{Samples: train.Samples(), Features: train.Features()}

	o.enter(ctx, SharingRawFeatures)
	if err := tx.SendFixed(ctx, train.RowMajor()); err != nil {
		return fail(err)
	}
	o.log.Info(ctx, "training data shared")

	if o.cfg.LabelHolder() {
		o.enter(ctx, SharingLabels)
		if err := tx.SendFixed(ctx, train.Labels); err != nil {
			return fail(err)
		}

		o.enter(ctx, SharingLabelIndicators)
		classes, ivs := indicator.ClassIndicators(train.Labels)
		if err := tx.SendInts(ctx, concatVectors(ivs)); err != nil {
			return fail(err)
		}
		res.Classes = classes
		o.log.Info(ctx, "training labels shared", "classes", len(classes))
	}

	o.enter(ctx, ComputingSplitsLocally)
	columns := make([][]float64, train.Features())
	res.Splits = make([]binning.SplitList, train.Features())
	for j := range columns {
		columns[j] = train.Column(j)
		splits, err := binning.ComputeSplits(columns[j], o.cfg.MaxSplits)
		if err != nil {
			return fail(fmt.Errorf("feature %d: %w", j, err))
		}
		if splits.Kind == binning.Degenerate {
			o.log.Warn(ctx, "feature has a single distinct value, no split candidates", "feature", j)
		}
		res.Splits[j] = splits
	}

	if o.cfg.AnnounceParams {
		o.enter(ctx, AnnouncingParams)
		total := 0
		for _, s := range res.Splits {
			total += s.Count
		}
		public := []int64{int64(o.cfg.TreeType), int64(total), int64(len(res.Classes))}
		if err := tx.SendPublic(ctx, public); err != nil {
			return fail(err)
		}
	}

	// Each state goes out in a single send so batch boundaries follow Plan.
	o.enter(ctx, SharingSplitParameters)
	slots := make([]float64, 0, len(res.Splits)*(o.cfg.MaxSplits+1))
	for _, s := range res.Splits {
		slots = append(slots, s.Slots(o.cfg.MaxSplits, binning.Sentinel)...)
	}
	if err := tx.SendFixed(ctx, slots); err != nil {
		return fail(err)
	}

	o.enter(ctx, SharingIndicatorVectors)
	var ivs []indicator.Vector
	for j, s := range res.Splits {
		left, right := indicator.SplitIndicators(columns[j], s)
		ivs = append(ivs, left...)
		ivs = append(ivs, right...)
	}
	if err := tx.SendInts(ctx, concatVectors(ivs)); err != nil {
		return fail(err)
	}
	o.log.Info(ctx, "split parameters shared", "vectors", len(ivs))

	o.enter(ctx, AwaitingResult)
	out, err := tx.ReceiveResult(ctx, o.cfg.OutputSize)
	if err != nil {
		return fail(err)
	}
	res.BestSplit = out.BestSplit
	res.Shares = out.Shares

	if err := ch.Close(); err != nil {
		o.log.Warn(ctx, "closing engine channel", "err", err)
	}
	o.enter(ctx, Closed)
	res.Elapsed = time.Since(start)
	o.log.Info(ctx, "training finished", "best_split", res.BestSplit, "elapsed", res.Elapsed)
	return res, nil
}

func concatVectors(vs []indicator.Vector) []int64 {
	n := 0
	for _, v := range vs {
		n += len(v)
	}
	out := make([]int64, 0, n)
	for _, v := range vs {
		out = append(out, v...)
	}
	return out
}

func (o *Orchestrator) trainingRows(part *dataset.Partition) (*dataset.Partition, error) {
	if o.cfg.LabelHolder() && part.Labels == nil {
		return nil, ErrNoLabels
	}
	n := dataset.TrainingRows(part.Samples(), o.cfg.TrainFraction)
	if n < 1 {
		return nil, fmt.Errorf("%w: %d samples at fraction %v", ErrNoTrainingRows, part.Samples(), o.cfg.TrainFraction)
	}
	return part.Head(n)
}

// IsTripleMismatch reports whether err stems from a failed triple check.
func IsTripleMismatch(err error) bool {
	return errors.Is(err, input.ErrTripleMismatch)
}
