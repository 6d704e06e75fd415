package enginesim

import (
	"context"
	"math/big"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pivot-spdz/dtree-client/internal/dataset"
	"github.com/pivot-spdz/dtree-client/pkg/field"
	"github.com/pivot-spdz/dtree-client/pkg/input"
	"github.com/pivot-spdz/dtree-client/pkg/sharechan"
	"github.com/pivot-spdz/dtree-client/pkg/sharechan/mocknet"
	"github.com/pivot-spdz/dtree-client/pkg/sharechan/tcpnet"
	"github.com/pivot-spdz/dtree-client/pkg/training"
)

func testParams(t *testing.T) *field.Params {
	t.Helper()
	m := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 61), big.NewInt(1))
	p, err := field.NewParams(m, 0, field.DefaultShift)
	require.NoError(t, err)
	return p
}

func mockCluster(t *testing.T, n int, opts Options) (*Cluster, *sharechan.Channel) {
	t.Helper()
	mn := mocknet.New()
	links := make([]Link, n)
	for i := range links {
		links[i] = mn.Engine(sharechan.EngineID(i))
	}
	c, err := New(testParams(t), links, opts)
	require.NoError(t, err)
	ch, err := sharechan.New(mn.Client(n), n)
	require.NoError(t, err)
	return c, ch
}

func TestServeReconstructsInputs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	params := testParams(t)
	cluster, ch := mockCluster(t, 3, Options{CorruptAt: -1, BatchSize: 2, BestSplit: 4})
	tx, err := input.NewTransmitter(ch, params, input.WithBatchSize(2))
	require.NoError(t, err)

	plan := []training.Segment{
		{State: training.SharingRawFeatures, Values: 3},
		{State: training.AnnouncingParams, Values: 2, Public: true},
		{State: training.SharingIndicatorVectors, Values: 2},
		{State: training.AwaitingResult, Values: 1},
	}
	done := make(chan error, 1)
	go func() { done <- cluster.Serve(ctx, plan) }()

	require.NoError(t, tx.SendFixed(ctx, []float64{10, 20, 15}))
	require.NoError(t, tx.SendPublic(ctx, []int64{7, 8}))
	require.NoError(t, tx.SendInts(ctx, []int64{1, 0}))
	res, err := tx.ReceiveResult(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 4, res.BestSplit)
	require.NoError(t, <-done)

	rec := cluster.Record()
	require.Equal(t, []float64{10, 20, 15}, Fixed(params, rec.Segments[training.SharingRawFeatures]))
	require.Equal(t, []int64{1, 0}, Ints(params, rec.Segments[training.SharingIndicatorVectors]))
	require.Equal(t, []int64{7, 8}, Ints(params, rec.Public))
	require.Len(t, rec.Private, 5)
}

func TestCorruptTripleIsDetected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cluster, ch := mockCluster(t, 2, Options{CorruptAt: 0})
	tx, err := input.NewTransmitter(ch, testParams(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- cluster.Serve(ctx, []training.Segment{{State: training.SharingLabels, Values: 1}}) }()

	err = tx.SendFixed(ctx, []float64{1})
	require.ErrorIs(t, err, input.ErrTripleMismatch)

	cancel()
	require.Error(t, <-done)
	require.Empty(t, cluster.Record().Private)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, nil, Options{})
	require.Error(t, err)
}

// listenRange opens n listeners on consecutive loopback ports.
func listenRange(t *testing.T, n int) (int, []net.Listener) {
	t.Helper()
	for attempt := 0; attempt < 50; attempt++ {
		first, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		base := first.Addr().(*net.TCPAddr).Port
		lns := []net.Listener{first}
		for i := 1; i < n; i++ {
			ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(base+i)))
			if err != nil {
				break
			}
			lns = append(lns, ln)
		}
		if len(lns) == n {
			t.Cleanup(func() {
				for _, ln := range lns {
					_ = ln.Close()
				}
			})
			return base, lns
		}
		for _, ln := range lns {
			_ = ln.Close()
		}
	}
	t.Fatal("could not reserve consecutive ports")
	return 0, nil
}

func TestTrainingOverTCP(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const engines = 3
	params := testParams(t)
	part, err := dataset.Read(strings.NewReader("1,5\n2,6\n3,7\n4,8\n5,9\n"), false)
	require.NoError(t, err)
	cfg := training.DefaultConfig(2)
	plan, err := training.Plan(cfg, part)
	require.NoError(t, err)

	base, lns := listenRange(t, engines)
	type accepted struct {
		links []Link
		party uint32
		err   error
	}
	acc := make(chan accepted, 1)
	go func() {
		links, party, err := AcceptTCP(ctx, lns)
		acc <- accepted{links, party, err}
	}()

	dial := func(ctx context.Context) (training.Channel, error) {
		tr, err := tcpnet.Dial(ctx, tcpnet.Config{
			Hosts:    []string{"127.0.0.1", "127.0.0.1", "127.0.0.1"},
			PortBase: base,
			PartyID:  2,
		})
		if err != nil {
			return nil, err
		}
		return sharechan.New(tr, engines)
	}
	load := func(context.Context) (*dataset.Partition, error) { return part, nil }
	orch, err := training.New(cfg, params, dial, load)
	require.NoError(t, err)

	type outcome struct {
		res *training.Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := orch.Run(ctx)
		out <- outcome{res, err}
	}()

	a := <-acc
	require.NoError(t, a.err)
	require.EqualValues(t, 2, a.party)
	cluster, err := New(params, a.links, Options{CorruptAt: -1, BestSplit: 3})
	require.NoError(t, err)
	defer cluster.Close()
	require.NoError(t, cluster.Serve(ctx, plan))

	o := <-out
	require.NoError(t, o.err)
	require.EqualValues(t, 3, o.res.BestSplit)

	raw := Fixed(params, cluster.Record().Segments[training.SharingRawFeatures])
	require.Equal(t, []float64{1, 5, 2, 6, 3, 7, 4, 8}, raw)
}
