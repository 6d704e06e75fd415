// Package tcpnet implements sharechan.Transport over one TCP connection per
// engine.
//
// Engine i listens on PortBase+i. After connecting, the client announces its
// party identifier as a 4-byte big-endian integer; every subsequent message is
// a length-prefixed frame (see WriteFrame).
package tcpnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pivot-spdz/dtree-client/pkg/sharechan"
)

const defaultDialTimeout = 10 * time.Second

// ErrClosed indicates the transport has been closed.
var ErrClosed = errors.New("tcpnet: transport closed")

// Config describes how to reach the engines.
type Config struct {
	// Hosts lists one address per engine, in engine order.
	Hosts    []string
	PortBase int
	PartyID  uint32

	// DialTimeout bounds connection establishment for all engines together.
	DialTimeout time.Duration
	// DialRetry is the pause between attempts while an engine is not yet
	// listening. Zero disables retries: the first refused connection fails
	// the dial.
	DialRetry time.Duration
}

// Address returns the host:port of engine i.
func (c Config) Address(i int) string {
	return net.JoinHostPort(c.Hosts[i], strconv.Itoa(c.PortBase+i))
}

func (c Config) validate() error {
	if len(c.Hosts) == 0 {
		return errors.New("tcpnet: at least one engine host required")
	}
	if len(c.Hosts) > math.MaxUint32 {
		return fmt.Errorf("tcpnet: too many engines (%d)", len(c.Hosts))
	}
	if c.PortBase <= 0 || c.PortBase+len(c.Hosts)-1 > math.MaxUint16 {
		return fmt.Errorf("tcpnet: invalid port base %d", c.PortBase)
	}
	return nil
}

// Transport keeps one long-lived connection per engine.
type Transport struct {
	ctx    context.Context
	cancel context.CancelFunc

	peers     []*peerConn
	closeOnce sync.Once
}

type peerConn struct {
	id   sharechan.EngineID
	conn net.Conn

	wmu  sync.Mutex
	recv chan []byte

	errOnce sync.Once
	err     error
}

// Dial connects to every engine and announces cfg.PartyID. With DialRetry
// set, connections are retried until the engines listen or the dial timeout
// elapses. If any engine cannot be reached, all established connections are
// closed.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	retry := cfg.DialRetry

	dialCtx, dialCancel := context.WithTimeout(ctx, timeout)
	defer dialCancel()

	conns := make([]net.Conn, len(cfg.Hosts))
	errs := make([]error, len(cfg.Hosts))
	var wg sync.WaitGroup
	for i := range cfg.Hosts {
		wg.Go(func() {
			conns[i], errs[i] = dialEngine(dialCtx, cfg.Address(i), cfg.PartyID, retry)
		})
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		for _, c := range conns {
			if c != nil {
				_ = c.Close()
			}
		}
		return nil, err
	}

	tctx, cancel := context.WithCancel(context.Background())
	t := &Transport{ctx: tctx, cancel: cancel, peers: make([]*peerConn, len(conns))}
	for i, c := range conns {
		t.peers[i] = newPeerConn(tctx, sharechan.EngineID(i), c)
	}
	return t, nil
}

func dialEngine(ctx context.Context, addr string, party uint32, retry time.Duration) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			if err := WritePartyID(conn, party); err != nil {
				return nil, closeWithContextErr(conn, fmt.Errorf("tcpnet: announce party to %s: %w", addr, err))
			}
			return conn, nil
		}
		if retry <= 0 {
			return nil, fmt.Errorf("tcpnet: dial %s: %w", addr, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tcpnet: dial %s: %w", addr, errors.Join(ctx.Err(), err))
		case <-time.After(retry):
		}
	}
}

// Send writes one frame to engine to.
func (t *Transport) Send(ctx context.Context, to sharechan.EngineID, msg []byte) error {
	pc, err := t.peer(to)
	if err != nil {
		return err
	}
	select {
	case <-t.ctx.Done():
		return ErrClosed
	default:
	}
	return pc.write(ctx, msg)
}

// Receive returns the next frame from engine from.
func (t *Transport) Receive(ctx context.Context, from sharechan.EngineID) ([]byte, error) {
	pc, err := t.peer(from)
	if err != nil {
		return nil, err
	}
	return pc.recvOne(ctx, t.ctx)
}

// ReceiveAll returns one frame from each listed engine. Each connection has
// its own reader goroutine, so waiting on engines in list order does not
// stall the others.
func (t *Transport) ReceiveAll(ctx context.Context, from []sharechan.EngineID) (map[sharechan.EngineID][]byte, error) {
	uniq := make(map[sharechan.EngineID]struct{}, len(from))
	for _, id := range from {
		if _, err := t.peer(id); err != nil {
			return nil, err
		}
		if _, exists := uniq[id]; exists {
			return nil, fmt.Errorf("tcpnet: duplicate engine %d in receive_all", id)
		}
		uniq[id] = struct{}{}
	}

	out := make(map[sharechan.EngineID][]byte, len(from))
	for _, id := range from {
		msg, err := t.peers[id].recvOne(ctx, t.ctx)
		if err != nil {
			return nil, &sharechan.EngineError{Op: "receive", Engine: id, Err: err}
		}
		out[id] = msg
	}
	return out, nil
}

// Close terminates every engine connection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		for _, pc := range t.peers {
			pc.setErr(ErrClosed)
		}
	})
	return nil
}

func (t *Transport) peer(id sharechan.EngineID) (*peerConn, error) {
	if int(id) >= len(t.peers) {
		return nil, fmt.Errorf("tcpnet: unknown engine %d", id)
	}
	return t.peers[id], nil
}

func newPeerConn(ctx context.Context, id sharechan.EngineID, conn net.Conn) *peerConn {
	pc := &peerConn{
		id:   id,
		conn: conn,
		recv: make(chan []byte, 16),
	}
	go pc.reader(ctx)
	return pc
}

func (pc *peerConn) reader(ctx context.Context) {
	defer close(pc.recv)
	for {
		msg, err := ReadFrame(pc.conn)
		if err != nil {
			pc.setErr(err)
			return
		}
		select {
		case pc.recv <- msg:
		case <-ctx.Done():
			pc.setErr(ctx.Err())
			return
		}
	}
}

// write sends msg synchronously. A done ctx aborts the write by moving the
// connection deadline into the past, which poisons the connection.
func (pc *peerConn) write(ctx context.Context, msg []byte) error {
	pc.wmu.Lock()
	defer pc.wmu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = pc.conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := WriteFrame(pc.conn, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		pc.setErr(err)
		return err
	}
	return nil
}

func (pc *peerConn) recvOne(ctx, transportCtx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-transportCtx.Done():
		return nil, ErrClosed
	case msg, ok := <-pc.recv:
		if !ok {
			return nil, pc.errOr(io.EOF)
		}
		return msg, nil
	}
}

func (pc *peerConn) setErr(err error) {
	pc.errOnce.Do(func() {
		if err == nil {
			err = io.EOF
		}
		pc.err = err
		_ = pc.conn.Close()
	})
}

func (pc *peerConn) errOr(fallback error) error {
	if pc.err != nil {
		return pc.err
	}
	return fallback
}

var _ sharechan.Transport = (*Transport)(nil)
