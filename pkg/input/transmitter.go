// Package input implements the triple-checked input protocol by which the
// client hands private values to the SPDZ engines.
//
// For a batch of B values the client receives 3·B triple shares from every
// engine, sums them, checks a·b = c for each reconstructed triple and only
// then broadcasts value+a. A failed check returns a *TripleError before any
// masked value leaves the process; callers must treat it as fatal.
package input

import (
	"context"
	"math/big"

	"github.com/pivot-spdz/dtree-client/pkg/field"
	"github.com/pivot-spdz/dtree-client/pkg/logging"
)

// Channel is the engine fan-out used by the transmitter. *sharechan.Channel
// satisfies it.
type Channel interface {
	Broadcast(ctx context.Context, payload []byte) error
	Collect(ctx context.Context) ([][]byte, error)
	Engines() int
}

// Recorder receives protocol counters. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	ValuesShared(n int)
	BatchShared()
	PublicShared(n int)
	TripleFailure()
}

type nopRecorder struct{}

func (nopRecorder) ValuesShared(int) {}
func (nopRecorder) BatchShared()     {}
func (nopRecorder) PublicShared(int) {}
func (nopRecorder) TripleFailure()   {}

// DefaultBatchSize masks every value with its own round trip.
const DefaultBatchSize = 1

// Transmitter shares values with the engines. It is not safe for concurrent
// use; the engines rely on the exact order of batches.
type Transmitter struct {
	ch     Channel
	params *field.Params
	batch  int
	log    logging.Logger
	rec    Recorder
}

// Option customises a Transmitter.
type Option func(*Transmitter)

// WithBatchSize sets how many values share one triple round trip. The engines
// must be configured with the same value.
func WithBatchSize(n int) Option {
	return func(t *Transmitter) {
		if n > 0 {
			t.batch = n
		}
	}
}

// WithLogger sets the logger. Values are never logged.
func WithLogger(l logging.Logger) Option {
	return func(t *Transmitter) {
		if l != nil {
			t.log = l
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(t *Transmitter) {
		if r != nil {
			t.rec = r
		}
	}
}

// NewTransmitter returns a transmitter over ch using the field params.
func NewTransmitter(ch Channel, params *field.Params, opts ...Option) (*Transmitter, error) {
	if ch == nil || params == nil {
		return nil, errorf("new", "%w: channel and params are required", ErrInvalidParameter)
	}
	t := &Transmitter{
		ch:     ch,
		params: params,
		batch:  DefaultBatchSize,
		log:    logging.Discard(),
		rec:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = logging.Component(t.log, "input")
	return t, nil
}

// BatchSize returns the number of values per triple round trip.
func (t *Transmitter) BatchSize() int { return t.batch }

// SendValues shares already encoded field elements, split into batches.
func (t *Transmitter) SendValues(ctx context.Context, values []field.Element) error {
	for off := 0; off < len(values); off += t.batch {
		end := min(off+t.batch, len(values))
		if err := t.sendBatch(ctx, values[off:end], off); err != nil {
			return err
		}
	}
	t.rec.ValuesShared(len(values))
	return nil
}

// SendFixed encodes reals as fixed-point elements and shares them.
func (t *Transmitter) SendFixed(ctx context.Context, values []float64) error {
	elems := make([]field.Element, len(values))
	for i, x := range values {
		e, err := t.params.EncodeFixed(x)
		if err != nil {
			return &Error{Op: "send_fixed", Err: err}
		}
		elems[i] = e
	}
	return t.SendValues(ctx, elems)
}

// SendInts shares integers without scaling. Indicator bits use this path.
func (t *Transmitter) SendInts(ctx context.Context, values []int64) error {
	elems, err := t.encodeInts("send_ints", values)
	if err != nil {
		return err
	}
	return t.SendValues(ctx, elems)
}

// SendPublic broadcasts values in the clear. No triples are consumed.
func (t *Transmitter) SendPublic(ctx context.Context, values []int64) error {
	elems, err := t.encodeInts("send_public", values)
	if err != nil {
		return err
	}
	if err := t.ch.Broadcast(ctx, t.params.Pack(elems)); err != nil {
		return &Error{Op: "send_public", Err: err}
	}
	t.rec.PublicShared(len(values))
	t.log.Debug(ctx, "public values sent", "count", len(values))
	return nil
}

func (t *Transmitter) encodeInts(op string, values []int64) ([]field.Element, error) {
	elems := make([]field.Element, len(values))
	for i, v := range values {
		e, err := t.params.EncodeSigned(big.NewInt(v))
		if err != nil {
			return nil, &Error{Op: op, Err: err}
		}
		elems[i] = e
	}
	return elems, nil
}

// sendBatch runs one collect/verify/broadcast round for values. offset is the
// position of values[0] in the caller's slice and only feeds error reports.
func (t *Transmitter) sendBatch(ctx context.Context, values []field.Element, offset int) error {
	payloads, err := t.ch.Collect(ctx)
	if err != nil {
		return &Error{Op: "collect_triples", Err: err}
	}
	defer func() {
		for _, payload := range payloads {
			field.ZeroizeBytes(payload)
		}
	}()
	triples, err := reconstructTriples(t.params, payloads, len(values))
	if err != nil {
		return &Error{Op: "collect_triples", Err: err}
	}
	defer discardTriples(triples)
	if err := verifyTriples(t.params, triples, offset); err != nil {
		t.rec.TripleFailure()
		t.log.Error(ctx, "triple check failed, aborting",
			"engines", len(payloads), "batch", len(values), "err", err, logging.Redacted("triples"))
		return &Error{Op: "verify_triples", Err: err}
	}

	masked := make([]field.Element, len(values))
	for i, v := range values {
		masked[i] = t.params.Add(v, triples[i].A)
	}
	if err := t.ch.Broadcast(ctx, t.params.Pack(masked)); err != nil {
		return &Error{Op: "broadcast_masked", Err: err}
	}
	t.rec.BatchShared()
	return nil
}

// Result is the aggregated answer the engines return at the end of training.
type Result struct {
	// Shares are the fixed-point decoded leading elements, possibly empty.
	Shares []float64
	// BestSplit is the signed decoding of the last element.
	BestSplit int64
}

// ReceiveResult collects outputSize elements from every engine, sums them
// and decodes the result. outputSize must be at least 1.
func (t *Transmitter) ReceiveResult(ctx context.Context, outputSize int) (*Result, error) {
	if outputSize < 1 {
		return nil, errorf("receive_result", "%w: output size %d", ErrInvalidParameter, outputSize)
	}
	payloads, err := t.ch.Collect(ctx)
	if err != nil {
		return nil, &Error{Op: "receive_result", Err: err}
	}
	sums := make([]field.Element, outputSize)
	for i := range sums {
		sums[i] = t.params.Zero()
	}
	for engine, payload := range payloads {
		elems, err := t.params.Unpack(payload, outputSize)
		if err != nil {
			return nil, errorf("receive_result", "%w: engine %d: %w", ErrMalformedBatch, engine, err)
		}
		for i, e := range elems {
			sums[i] = t.params.Add(sums[i], e)
		}
	}

	res := &Result{Shares: make([]float64, outputSize-1)}
	for i := range res.Shares {
		res.Shares[i] = t.params.DecodeFixed(sums[i])
	}
	idx, err := t.params.DecodeInt64(sums[outputSize-1])
	if err != nil {
		return nil, &Error{Op: "receive_result", Err: err}
	}
	res.BestSplit = idx
	return res, nil
}
