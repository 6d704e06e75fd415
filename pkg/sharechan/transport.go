package sharechan

import "context"

// EngineID identifies a computation engine by its position in the engine
// list. Values start at 0.
type EngineID uint32

// Transport captures the messaging contract between this client and the
// engines.
//
// Semantics: ReceiveAll must return exactly one entry per requested engine;
// missing entries are treated as an error by Channel. Receives from distinct
// engines must not block each other, so the order in which engines answer
// has no influence on the result.
//
// Cancellation: implementations must return promptly once ctx is done.
type Transport interface {
	Send(ctx context.Context, to EngineID, msg []byte) error
	Receive(ctx context.Context, from EngineID) ([]byte, error)
	ReceiveAll(ctx context.Context, from []EngineID) (map[EngineID][]byte, error)
	Close() error
}
