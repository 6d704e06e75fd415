package tcpnet

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// EngineConn is the engine end of a client connection. It is used by test
// engines and simulators; real deployments run the engines elsewhere.
type EngineConn struct {
	conn  net.Conn
	party uint32

	rmu       sync.Mutex
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// AcceptClient accepts one client on ln and reads its party announcement.
// Cancelling ctx while waiting for a client closes ln.
func AcceptClient(ctx context.Context, ln net.Listener) (*EngineConn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		done <- result{conn, err}
	}()

	var conn net.Conn
	select {
	case <-ctx.Done():
		_ = ln.Close()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("tcpnet: accept: %w", r.err)
		}
		conn = r.conn
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Unix(1, 0)) })
	party, err := ReadPartyID(conn)
	if !stop() || err != nil {
		if err == nil {
			err = ctx.Err()
		}
		return nil, closeWithContextErr(conn, fmt.Errorf("tcpnet: read party id: %w", err))
	}
	return &EngineConn{conn: conn, party: party}, nil
}

// Party returns the identifier the client announced.
func (e *EngineConn) Party() uint32 { return e.party }

// Send writes one frame to the client.
func (e *EngineConn) Send(ctx context.Context, msg []byte) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = e.conn.SetWriteDeadline(time.Unix(1, 0)) })
	defer stop()
	if err := WriteFrame(e.conn, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Receive reads the next frame from the client.
func (e *EngineConn) Receive(ctx context.Context) ([]byte, error) {
	e.rmu.Lock()
	defer e.rmu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = e.conn.SetReadDeadline(time.Unix(1, 0)) })
	defer stop()
	msg, err := ReadFrame(e.conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return msg, nil
}

// Close closes the connection.
func (e *EngineConn) Close() error {
	e.closeOnce.Do(func() { e.closeErr = e.conn.Close() })
	return e.closeErr
}
