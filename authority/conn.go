package authority

import (
	"context"
	"io"

	"github.com/plus3/remoteworld/internal/fifo"
	"github.com/plus3/remoteworld/protocol"
)

// Conn is an open connection to a Server. It serves as a session link for
// in-process clients and as the server half of a network transport.
type Conn struct {
	server  *Server
	welcome protocol.Welcome
	outbox  *fifo.Queue[[]byte]
}

func newConn(server *Server, welcome protocol.Welcome) *Conn {
	return &Conn{
		server:  server,
		welcome: welcome,
		outbox:  fifo.New[[]byte](),
	}
}

// Welcome returns the handshake for this connection.
func (c *Conn) Welcome() protocol.Welcome {
	return c.welcome
}

// Call serves a call made on this connection.
func (c *Conn) Call(ctx context.Context, procedure string, payload []byte) ([]byte, error) {
	return c.server.HandleRPC(ctx, c.welcome.ConnectionID, procedure, payload)
}

// Recv returns the next encoded diff for this connection. It returns io.EOF
// once the connection is closed and every queued diff has been received.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	for {
		if data, ok := c.outbox.TryDequeue(); ok {
			return data, nil
		}
		if c.outbox.Done() {
			return nil, io.EOF
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.outbox.Wait():
		}
	}
}

// Pending returns the number of diffs queued for this connection.
func (c *Conn) Pending() int {
	return c.outbox.Len()
}

// Close disconnects from the server.
func (c *Conn) Close() error {
	c.server.Disconnect(context.Background(), c.welcome.ConnectionID)
	return nil
}

func (c *Conn) push(data []byte) {
	c.outbox.Enqueue(data)
}

func (c *Conn) close() {
	c.outbox.Close()
}
