// Package enginesim simulates a set of SPDZ engines serving one client.
//
// The simulator acts as a trusted dealer: for every batch it draws fresh
// triples, splits each into additive shares and hands one share per engine
// to the client. It then reconstructs the client's inputs from the masked
// broadcast, which lets tests check exactly what a client shared. It runs
// over any link exposing Send, Receive and Close, such as mocknet or tcpnet
// engine connections.
package enginesim

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/pivot-spdz/dtree-client/pkg/field"
	"github.com/pivot-spdz/dtree-client/pkg/logging"
	"github.com/pivot-spdz/dtree-client/pkg/sharechan/tcpnet"
	"github.com/pivot-spdz/dtree-client/pkg/training"
)

var (
	// ErrDiverged indicates the engines received different broadcasts.
	ErrDiverged = errors.New("enginesim: engines received different payloads")

	// ErrUnexpectedPayload indicates a broadcast of the wrong size.
	ErrUnexpectedPayload = errors.New("enginesim: unexpected payload")
)

// Link is the engine side of a connection to the client.
type Link interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Options tunes the simulation.
type Options struct {
	// BatchSize must match the client. Zero means 1.
	BatchSize int
	// CorruptAt, when non-negative, breaks the triple of that private input.
	// Zero-based across the whole run. Use -1 to disable.
	CorruptAt int
	// Shares and BestSplit form the result sent at the end. Shares are
	// fixed-point encoded; the result holds len(Shares)+1 elements.
	Shares    []float64
	BestSplit int64
	// Rand sources triples and shares. Nil means crypto/rand.
	Rand io.Reader
	Log  logging.Logger
}

// Record is what the engines jointly learned from the client.
type Record struct {
	// Private holds the reconstructed private inputs in arrival order.
	Private []field.Element
	// Segments holds the private inputs split by plan segment.
	Segments map[training.State][]field.Element
	Public   []field.Element
}

// Cluster is a set of simulated engines bound to one client.
type Cluster struct {
	params *field.Params
	links  []Link
	opts   Options

	mu  sync.Mutex
	rec Record
}

// New returns a cluster speaking over links, one per engine in engine
// order.
func New(params *field.Params, links []Link, opts Options) (*Cluster, error) {
	if params == nil || len(links) == 0 {
		return nil, errors.New("enginesim: params and at least one link required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	return &Cluster{
		params: params,
		links:  links,
		opts:   opts,
		rec:    Record{Segments: make(map[training.State][]field.Element)},
	}, nil
}

// Record returns a copy of what has been received so far.
func (c *Cluster) Record() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Record{
		Private:  append([]field.Element(nil), c.rec.Private...),
		Public:   append([]field.Element(nil), c.rec.Public...),
		Segments: make(map[training.State][]field.Element, len(c.rec.Segments)),
	}
	for s, v := range c.rec.Segments {
		out.Segments[s] = append([]field.Element(nil), v...)
	}
	return out
}

// Close closes every link.
func (c *Cluster) Close() error {
	var errs []error
	for _, l := range c.links {
		errs = append(errs, l.Close())
	}
	return errors.Join(errs...)
}

// Serve plays the engine side of plan. It returns once the result has been
// sent, or with the first error, e.g. when the client aborts.
func (c *Cluster) Serve(ctx context.Context, plan []training.Segment) error {
	private := 0
	for _, seg := range plan {
		switch {
		case seg.State == training.AwaitingResult:
			if err := c.sendResult(ctx, seg.Values); err != nil {
				return err
			}
		case seg.Public:
			vals, err := c.receiveBroadcast(ctx, seg.Values)
			if err != nil {
				return fmt.Errorf("enginesim: %s: %w", seg.State, err)
			}
			c.mu.Lock()
			c.rec.Public = append(c.rec.Public, vals...)
			c.mu.Unlock()
		default:
			for done := 0; done < seg.Values; {
				n := min(c.opts.BatchSize, seg.Values-done)
				vals, err := c.serveBatch(ctx, n, private)
				if err != nil {
					return fmt.Errorf("enginesim: %s input %d: %w", seg.State, private, err)
				}
				c.mu.Lock()
				c.rec.Private = append(c.rec.Private, vals...)
				c.rec.Segments[seg.State] = append(c.rec.Segments[seg.State], vals...)
				c.mu.Unlock()
				done += n
				private += n
			}
		}
	}
	c.opts.Log.Debug(ctx, "simulation finished", "inputs", private)
	return nil
}

func (c *Cluster) random() (field.Element, error) {
	v, err := rand.Int(c.opts.Rand, c.params.Modulus())
	if err != nil {
		return field.Element{}, err
	}
	return c.params.FromBig(v), nil
}

// split returns len(c.links) additive shares of v.
func (c *Cluster) split(v field.Element) ([]field.Element, error) {
	shares := make([]field.Element, len(c.links))
	rest := v
	for i := 1; i < len(shares); i++ {
		r, err := c.random()
		if err != nil {
			return nil, err
		}
		shares[i] = r
		rest = c.params.Sub(rest, r)
	}
	shares[0] = rest
	return shares, nil
}

func (c *Cluster) serveBatch(ctx context.Context, n, first int) ([]field.Element, error) {
	p := c.params
	masks := make([]field.Element, n)
	perEngine := make([][]field.Element, len(c.links))
	for i := 0; i < n; i++ {
		a, err := c.random()
		if err != nil {
			return nil, err
		}
		b, err := c.random()
		if err != nil {
			return nil, err
		}
		cc := p.Mul(a, b)
		if first+i == c.opts.CorruptAt {
			cc = p.Add(cc, p.FromInt64(1))
		}
		masks[i] = a
		for _, v := range []field.Element{a, b, cc} {
			shares, err := c.split(v)
			if err != nil {
				return nil, err
			}
			for e := range perEngine {
				perEngine[e] = append(perEngine[e], shares[e])
			}
		}
	}
	for e, l := range c.links {
		if err := l.Send(ctx, p.Pack(perEngine[e])); err != nil {
			return nil, fmt.Errorf("engine %d: send triples: %w", e, err)
		}
	}

	masked, err := c.receiveBroadcast(ctx, n)
	if err != nil {
		return nil, err
	}
	vals := make([]field.Element, n)
	for i := range vals {
		vals[i] = p.Sub(masked[i], masks[i])
	}
	return vals, nil
}

// receiveBroadcast reads one payload per engine and checks they agree.
func (c *Cluster) receiveBroadcast(ctx context.Context, n int) ([]field.Element, error) {
	var first []byte
	for e, l := range c.links {
		msg, err := l.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine %d: receive: %w", e, err)
		}
		if e == 0 {
			first = msg
		} else if !bytes.Equal(first, msg) {
			return nil, fmt.Errorf("%w: engine %d", ErrDiverged, e)
		}
	}
	vals, err := c.params.Unpack(first, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedPayload, err)
	}
	return vals, nil
}

func (c *Cluster) sendResult(ctx context.Context, size int) error {
	p := c.params
	result := make([]field.Element, size)
	for i := range result {
		result[i] = p.Zero()
	}
	for i := 0; i < size-1 && i < len(c.opts.Shares); i++ {
		e, err := p.EncodeFixed(c.opts.Shares[i])
		if err != nil {
			return fmt.Errorf("enginesim: result share %d: %w", i, err)
		}
		result[i] = e
	}
	if size > 0 {
		result[size-1] = p.FromInt64(c.opts.BestSplit)
	}

	perEngine := make([][]field.Element, len(c.links))
	for _, v := range result {
		shares, err := c.split(v)
		if err != nil {
			return err
		}
		for e := range perEngine {
			perEngine[e] = append(perEngine[e], shares[e])
		}
	}
	for e, l := range c.links {
		if err := l.Send(ctx, p.Pack(perEngine[e])); err != nil {
			return fmt.Errorf("enginesim: engine %d: send result: %w", e, err)
		}
	}
	return nil
}

// ListenTCP opens listeners for n engines on host at portBase+i and waits for
// the client to connect to all of them.
func ListenTCP(ctx context.Context, host string, portBase, n int) ([]Link, uint32, error) {
	lns := make([]net.Listener, 0, n)
	defer func() {
		for _, ln := range lns {
			_ = ln.Close()
		}
	}()
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(portBase+i)))
		if err != nil {
			return nil, 0, fmt.Errorf("enginesim: listen engine %d: %w", i, err)
		}
		lns = append(lns, ln)
	}
	return AcceptTCP(ctx, lns)
}

// AcceptTCP accepts the client on each listener, in engine order, and
// returns the links together with the announced client id.
func AcceptTCP(ctx context.Context, lns []net.Listener) ([]Link, uint32, error) {
	links := make([]Link, len(lns))
	errs := make([]error, len(lns))
	var wg sync.WaitGroup
	for i, ln := range lns {
		wg.Go(func() {
			conn, err := tcpnet.AcceptClient(ctx, ln)
			if err != nil {
				errs[i] = fmt.Errorf("enginesim: engine %d: %w", i, err)
				return
			}
			links[i] = conn
		})
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		for _, l := range links {
			if l != nil {
				_ = l.Close()
			}
		}
		return nil, 0, err
	}

	party := links[0].(*tcpnet.EngineConn).Party()
	for i, l := range links {
		if got := l.(*tcpnet.EngineConn).Party(); got != party {
			for _, l := range links {
				_ = l.Close()
			}
			return nil, 0, fmt.Errorf("enginesim: engine %d saw client %d, engine 0 saw %d", i, got, party)
		}
	}
	return links, party, nil
}

// Fixed decodes values as fixed-point reals.
func Fixed(p *field.Params, values []field.Element) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = p.DecodeFixed(v)
	}
	return out
}

// Ints decodes values as signed integers.
func Ints(p *field.Params, values []field.Element) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = p.DecodeSigned(v).Int64()
	}
	return out
}
