// Package mocknet provides an in-memory transport between one client and a
// set of simulated engines.
//
// Messages are delivered through sequenced queues keyed by sender, receiver
// and sequence number, so each direction is FIFO and nothing is lost or
// reordered. Receives from distinct engines never block each other.
//
// # Usage
//
//	net := mocknet.New()
//	client := net.Client(3)       // implements sharechan.Transport
//	engine0 := net.Engine(0)      // engine side of the link to the client
//
//	ch, err := sharechan.New(client, 3)
//
// Closing an endpoint unblocks its pending receives.
package mocknet
