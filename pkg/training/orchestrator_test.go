package training_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pivot-spdz/dtree-client/internal/dataset"
	"github.com/pivot-spdz/dtree-client/internal/enginesim"
	"github.com/pivot-spdz/dtree-client/pkg/binning"
	"github.com/pivot-spdz/dtree-client/pkg/field"
	"github.com/pivot-spdz/dtree-client/pkg/sharechan"
	"github.com/pivot-spdz/dtree-client/pkg/sharechan/mocknet"
	"github.com/pivot-spdz/dtree-client/pkg/training"
)

const engines = 3

// Ten samples: a categorical feature, a constant feature and the label.
const partitionCSV = `1.5,10,0
2.5,10,1
3.5,10,0
4.5,10,2
5.5,10,1
6.5,10,0
7.5,10,1
8.5,10,2
9.5,10,0
10.5,10,1
`

func testParams(t *testing.T) *field.Params {
	t.Helper()
	m := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	p, err := field.NewParams(m, 128, field.DefaultShift)
	require.NoError(t, err)
	return p
}

func loadPartition(t *testing.T, labelHolder bool) *dataset.Partition {
	t.Helper()
	p, err := dataset.Read(strings.NewReader(partitionCSV), labelHolder)
	require.NoError(t, err)
	return p
}

type stateLog struct {
	mu     sync.Mutex
	states []training.State
	phases []training.State
}

func (l *stateLog) StateEntered(s training.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) PhaseDone(s training.State, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases = append(l.phases, s)
}

type harness struct {
	orch    *training.Orchestrator
	cluster *enginesim.Cluster
	plan    []training.Segment
	obs     *stateLog
}

func newHarness(t *testing.T, cfg training.Config, simOpts enginesim.Options) *harness {
	t.Helper()
	params := testParams(t)
	part := loadPartition(t, cfg.LabelHolder())

	net := mocknet.New()
	links := make([]enginesim.Link, engines)
	for i := range links {
		links[i] = net.Engine(sharechan.EngineID(i))
	}
	simOpts.BatchSize = cfg.BatchSize
	cluster, err := enginesim.New(params, links, simOpts)
	require.NoError(t, err)

	plan, err := training.Plan(cfg, part)
	require.NoError(t, err)

	dial := func(context.Context) (training.Channel, error) {
		return sharechan.New(net.Client(engines), engines)
	}
	load := func(context.Context) (*dataset.Partition, error) { return part, nil }

	obs := &stateLog{}
	orch, err := training.New(cfg, params, dial, load, training.WithObserver(obs))
	require.NoError(t, err)
	return &harness{orch: orch, cluster: cluster, plan: plan, obs: obs}
}

// run executes the client against the simulated engines.
func (h *harness) run(t *testing.T) (*training.Result, error, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	simErr := make(chan error, 1)
	go func() { simErr <- h.cluster.Serve(ctx, h.plan) }()

	res, err := h.orch.Run(ctx)
	if err != nil {
		cancel()
	}
	return res, err, <-simErr
}

func TestLabelHolderRun(t *testing.T) {
	cfg := training.DefaultConfig(0)
	h := newHarness(t, cfg, enginesim.Options{CorruptAt: -1, BestSplit: 5})
	params := testParams(t)

	res, err, simErr := h.run(t)
	require.NoError(t, err)
	require.NoError(t, simErr)

	require.EqualValues(t, 5, res.BestSplit)
	require.Empty(t, res.Shares)
	require.Equal(t, 8, res.Samples)
	require.Equal(t, 2, res.Features)
	require.Equal(t, []float64{0, 1, 2}, res.Classes)
	require.Equal(t, binning.Categorical, res.Splits[0].Kind)
	require.Equal(t, binning.Degenerate, res.Splits[1].Kind)
	require.Equal(t, training.Closed, h.orch.State())

	rec := h.cluster.Record()
	raw := enginesim.Fixed(params, rec.Segments[training.SharingRawFeatures])
	require.Equal(t, []float64{1.5, 10, 2.5, 10, 3.5, 10, 4.5, 10, 5.5, 10, 6.5, 10, 7.5, 10, 8.5, 10}, raw)

	labels := enginesim.Fixed(params, rec.Segments[training.SharingLabels])
	require.Equal(t, []float64{0, 1, 0, 2, 1, 0, 1, 2}, labels)

	classIVs := enginesim.Ints(params, rec.Segments[training.SharingLabelIndicators])
	require.Equal(t, []int64{
		1, 0, 1, 0, 0, 1, 0, 0,
		0, 1, 0, 0, 1, 0, 1, 0,
		0, 0, 0, 1, 0, 0, 0, 1,
	}, classIVs)

	splitParams := enginesim.Fixed(params, rec.Segments[training.SharingSplitParameters])
	require.Equal(t, []float64{
		7, 1.5, 2.5, 3.5, 4.5, 5.5, 6.5, 7.5, -1,
		0, -1, -1, -1, -1, -1, -1, -1, -1,
	}, splitParams)

	ivs := enginesim.Ints(params, rec.Segments[training.SharingIndicatorVectors])
	require.Len(t, ivs, 2*7*8)
	// First left vector: only the first sample is <= 1.5.
	require.Equal(t, []int64{1, 0, 0, 0, 0, 0, 0, 0}, ivs[:8])
	// Last right vector: only the last sample is > 7.5.
	require.Equal(t, []int64{0, 0, 0, 0, 0, 0, 0, 1}, ivs[len(ivs)-8:])

	require.Equal(t, []training.State{
		training.Connecting,
		training.LoadingData,
		training.SharingRawFeatures,
		training.SharingLabels,
		training.SharingLabelIndicators,
		training.ComputingSplitsLocally,
		training.SharingSplitParameters,
		training.SharingIndicatorVectors,
		training.AwaitingResult,
		training.Closed,
	}, h.obs.states)
}

func TestFeatureOnlyClientSkipsLabels(t *testing.T) {
	cfg := training.DefaultConfig(1)
	h := newHarness(t, cfg, enginesim.Options{CorruptAt: -1, BestSplit: -2})
	params := testParams(t)

	res, err, simErr := h.run(t)
	require.NoError(t, err)
	require.NoError(t, simErr)
	require.EqualValues(t, -2, res.BestSplit)
	require.Equal(t, 3, res.Features)
	require.Empty(t, res.Classes)

	rec := h.cluster.Record()
	require.Empty(t, rec.Segments[training.SharingLabels])
	require.Empty(t, rec.Segments[training.SharingLabelIndicators])
	require.Len(t, enginesim.Fixed(params, rec.Segments[training.SharingRawFeatures]), 8*3)
	require.NotContains(t, h.obs.states, training.SharingLabels)
	require.NotContains(t, h.obs.states, training.SharingLabelIndicators)
}

func TestResultShares(t *testing.T) {
	cfg := training.DefaultConfig(1)
	cfg.OutputSize = 3
	h := newHarness(t, cfg, enginesim.Options{CorruptAt: -1, BestSplit: 9, Shares: []float64{0.5, -1.25}})

	res, err, simErr := h.run(t)
	require.NoError(t, err)
	require.NoError(t, simErr)
	require.Equal(t, []float64{0.5, -1.25}, res.Shares)
	require.EqualValues(t, 9, res.BestSplit)
}

// recordedInputs runs cfg against the simulator and returns the private
// inputs it reconstructed, decoded per state.
func recordedInputs(t *testing.T, cfg training.Config) map[training.State][]int64 {
	t.Helper()
	h := newHarness(t, cfg, enginesim.Options{CorruptAt: -1})
	_, err, simErr := h.run(t)
	require.NoError(t, err)
	require.NoError(t, simErr)

	params := testParams(t)
	rec := h.cluster.Record()
	out := make(map[training.State][]int64, len(rec.Segments))
	total := 0
	for _, seg := range h.plan {
		if seg.State == training.AwaitingResult || seg.Public {
			continue
		}
		require.Len(t, rec.Segments[seg.State], seg.Values, seg.State.String())
		out[seg.State] = enginesim.Ints(params, rec.Segments[seg.State])
		total += seg.Values
	}
	require.Len(t, rec.Private, total)
	return out
}

func TestBatchedRun(t *testing.T) {
	tests := []struct {
		name      string
		client    int
		batchSize int
	}{
		{"label holder, batch 5", 0, 5},
		{"label holder, batch 7", 0, 7},
		{"feature only, batch 2", 1, 2},
		{"feature only, batch 3", 1, 3},
		{"feature only, batch larger than run", 1, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := recordedInputs(t, training.DefaultConfig(tt.client))

			cfg := training.DefaultConfig(tt.client)
			cfg.BatchSize = tt.batchSize
			got := recordedInputs(t, cfg)
			require.Equal(t, want, got)
		})
	}
}

func TestAnnounceParams(t *testing.T) {
	cfg := training.DefaultConfig(0)
	cfg.AnnounceParams = true
	cfg.TreeType = 1
	h := newHarness(t, cfg, enginesim.Options{CorruptAt: -1})

	_, err, simErr := h.run(t)
	require.NoError(t, err)
	require.NoError(t, simErr)

	params := testParams(t)
	require.Equal(t, []int64{1, 7, 3}, enginesim.Ints(params, h.cluster.Record().Public))
	require.Contains(t, h.obs.states, training.AnnouncingParams)
}

func TestCorruptTripleAborts(t *testing.T) {
	cfg := training.DefaultConfig(0)
	h := newHarness(t, cfg, enginesim.Options{CorruptAt: 3})

	res, err, simErr := h.run(t)
	require.Nil(t, res)
	require.Error(t, err)
	require.Error(t, simErr)
	require.True(t, training.IsTripleMismatch(err))

	var te *training.Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, training.SharingRawFeatures, te.State)
	require.Equal(t, training.Aborted, h.orch.State())

	// Inputs before the corrupted triple went through, the corrupted one did not.
	require.Len(t, h.cluster.Record().Private, 3)
}

func TestDialFailureAborts(t *testing.T) {
	boom := errors.New("engine 2 unreachable")
	dial := func(context.Context) (training.Channel, error) { return nil, boom }
	load := func(context.Context) (*dataset.Partition, error) { return loadPartition(t, true), nil }
	orch, err := training.New(training.DefaultConfig(0), testParams(t), dial, load)
	require.NoError(t, err)

	_, err = orch.Run(context.Background())
	require.ErrorIs(t, err, boom)
	var te *training.Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, training.Connecting, te.State)

	_, err = orch.Run(context.Background())
	require.ErrorIs(t, err, training.ErrAlreadyRun)
}

func TestLabelHolderNeedsLabels(t *testing.T) {
	net := mocknet.New()
	dial := func(context.Context) (training.Channel, error) {
		return sharechan.New(net.Client(engines), engines)
	}
	load := func(context.Context) (*dataset.Partition, error) { return loadPartition(t, false), nil }
	orch, err := training.New(training.DefaultConfig(0), testParams(t), dial, load)
	require.NoError(t, err)

	_, err = orch.Run(context.Background())
	require.ErrorIs(t, err, training.ErrNoLabels)
	var te *training.Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, training.LoadingData, te.State)
}

func TestPlan(t *testing.T) {
	cfg := training.DefaultConfig(0)
	plan, err := training.Plan(cfg, loadPartition(t, true))
	require.NoError(t, err)
	require.Equal(t, []training.Segment{
		{State: training.SharingRawFeatures, Values: 16},
		{State: training.SharingLabels, Values: 8},
		{State: training.SharingLabelIndicators, Values: 24},
		{State: training.SharingSplitParameters, Values: 18},
		{State: training.SharingIndicatorVectors, Values: 112},
		{State: training.AwaitingResult, Values: 1},
	}, plan)
}

func TestNewValidates(t *testing.T) {
	cfg := training.DefaultConfig(0)
	cfg.TrainFraction = 0
	_, err := training.New(cfg, testParams(t), nil, nil)
	require.ErrorIs(t, err, training.ErrInvalidConfig)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "SharingSplitParameters", training.SharingSplitParameters.String())
	require.Equal(t, "State(42)", training.State(42).String())
	require.True(t, training.Aborted.Terminal())
	require.False(t, training.AwaitingResult.Terminal())
}
