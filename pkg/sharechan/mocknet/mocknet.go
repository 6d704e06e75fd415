package mocknet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pivot-spdz/dtree-client/pkg/sharechan"
)

// ClientNode is the node identifier of the client in the queue keys.
const ClientNode = sharechan.EngineID(math.MaxUint32)

// ErrClosed indicates the endpoint has been closed.
var ErrClosed = errors.New("mocknet: endpoint closed")

// Net is the shared in-memory fabric.
type Net struct {
	mu sync.Mutex
	q  map[queueKey]chan []byte
}

// New returns an empty network.
func New() *Net { return &Net{q: make(map[queueKey]chan []byte)} }

type queueKey struct {
	from sharechan.EngineID
	to   sharechan.EngineID
	seq  uint64
}

func (n *Net) slot(key queueKey) chan []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := n.q[key]
	if ch == nil {
		ch = make(chan []byte, 1)
		n.q[key] = ch
	}
	return ch
}

func (n *Net) deliver(ctx context.Context, done <-chan struct{}, key queueKey, payload []byte) error {
	ch := n.slot(key)
	msg := append([]byte(nil), payload...)
	select {
	case ch <- msg:
		return nil
	case <-done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Net) await(ctx context.Context, done <-chan struct{}, key queueKey) ([]byte, error) {
	ch := n.slot(key)
	select {
	case msg := <-ch:
		n.mu.Lock()
		delete(n.q, key)
		n.mu.Unlock()
		return msg, nil
	case <-done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type endpointCore struct {
	net   *Net
	self  sharechan.EngineID
	peers map[sharechan.EngineID]struct{}

	mu        sync.Mutex
	sendSeq   map[sharechan.EngineID]uint64
	recvSeq   map[sharechan.EngineID]uint64
	recvLocks map[sharechan.EngineID]*sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func newEndpointCore(n *Net, self sharechan.EngineID, peers []sharechan.EngineID) *endpointCore {
	set := make(map[sharechan.EngineID]struct{}, len(peers))
	for _, p := range peers {
		if p != self {
			set[p] = struct{}{}
		}
	}
	return &endpointCore{
		net:       n,
		self:      self,
		peers:     set,
		sendSeq:   make(map[sharechan.EngineID]uint64),
		recvSeq:   make(map[sharechan.EngineID]uint64),
		recvLocks: make(map[sharechan.EngineID]*sync.Mutex),
		done:      make(chan struct{}),
	}
}

func (c *endpointCore) checkPeer(id sharechan.EngineID) error {
	if id == c.self {
		return errors.New("mocknet: peer is self")
	}
	if _, ok := c.peers[id]; !ok {
		return fmt.Errorf("mocknet: unknown peer %d", id)
	}
	return nil
}

func (c *endpointCore) recvLock(id sharechan.EngineID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock := c.recvLocks[id]
	if lock == nil {
		lock = &sync.Mutex{}
		c.recvLocks[id] = lock
	}
	return lock
}

func (c *endpointCore) send(ctx context.Context, to sharechan.EngineID, msg []byte) error {
	if err := c.checkPeer(to); err != nil {
		return err
	}
	c.mu.Lock()
	seq := c.sendSeq[to]
	c.sendSeq[to]++
	c.mu.Unlock()
	return c.net.deliver(ctx, c.done, queueKey{from: c.self, to: to, seq: seq}, msg)
}

func (c *endpointCore) receive(ctx context.Context, from sharechan.EngineID) ([]byte, error) {
	if err := c.checkPeer(from); err != nil {
		return nil, err
	}
	lock := c.recvLock(from)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	seq := c.recvSeq[from]
	c.mu.Unlock()
	msg, err := c.net.await(ctx, c.done, queueKey{from: from, to: c.self, seq: seq})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.recvSeq[from]++
	c.mu.Unlock()
	return msg, nil
}

func (c *endpointCore) close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Endpoint is the client side of the network. It implements
// sharechan.Transport.
type Endpoint struct {
	core *endpointCore
}

// Client returns the client endpoint connected to engines 0..engines-1.
func (n *Net) Client(engines int) *Endpoint {
	peers := make([]sharechan.EngineID, engines)
	for i := range peers {
		peers[i] = sharechan.EngineID(i)
	}
	return &Endpoint{core: newEndpointCore(n, ClientNode, peers)}
}

// Send implements sharechan.Transport.
func (e *Endpoint) Send(ctx context.Context, to sharechan.EngineID, msg []byte) error {
	return e.core.send(ctx, to, msg)
}

// Receive implements sharechan.Transport.
func (e *Endpoint) Receive(ctx context.Context, from sharechan.EngineID) ([]byte, error) {
	return e.core.receive(ctx, from)
}

// ReceiveAll implements sharechan.Transport. Engines are awaited
// concurrently, so a slow engine does not delay reading the others.
func (e *Endpoint) ReceiveAll(ctx context.Context, from []sharechan.EngineID) (map[sharechan.EngineID][]byte, error) {
	ids, err := e.normalize(from)
	if err != nil {
		return nil, err
	}
	msgs := make([][]byte, len(ids))
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Go(func() {
			msgs[i], errs[i] = e.core.receive(ctx, id)
		})
	}
	wg.Wait()

	out := make(map[sharechan.EngineID][]byte, len(ids))
	for i, id := range ids {
		if errs[i] != nil {
			return nil, errs[i]
		}
		out[id] = msgs[i]
	}
	return out, nil
}

func (e *Endpoint) normalize(from []sharechan.EngineID) ([]sharechan.EngineID, error) {
	uniq := make(map[sharechan.EngineID]struct{}, len(from))
	for _, id := range from {
		if err := e.core.checkPeer(id); err != nil {
			return nil, err
		}
		if _, ok := uniq[id]; ok {
			return nil, errors.New("mocknet: duplicate engine")
		}
		uniq[id] = struct{}{}
	}
	ids := make([]sharechan.EngineID, 0, len(uniq))
	for id := range uniq {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Close implements sharechan.Transport and unblocks pending operations.
func (e *Endpoint) Close() error { return e.core.close() }

// EngineConn is the engine side of the link to the client.
type EngineConn struct {
	core *endpointCore
}

// Engine returns the endpoint of engine id.
func (n *Net) Engine(id sharechan.EngineID) *EngineConn {
	return &EngineConn{core: newEndpointCore(n, id, []sharechan.EngineID{ClientNode})}
}

// ID returns the engine identifier.
func (c *EngineConn) ID() sharechan.EngineID { return c.core.self }

// Send delivers msg to the client.
func (c *EngineConn) Send(ctx context.Context, msg []byte) error {
	return c.core.send(ctx, ClientNode, msg)
}

// Receive waits for the next message from the client.
func (c *EngineConn) Receive(ctx context.Context) ([]byte, error) {
	return c.core.receive(ctx, ClientNode)
}

// Close unblocks pending operations of this engine.
func (c *EngineConn) Close() error { return c.core.close() }

var _ sharechan.Transport = (*Endpoint)(nil)
