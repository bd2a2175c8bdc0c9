package control

import (
	"context"
	"net"
	"sync"

	"golang.org/x/xerrors"
)

// ErrClosed is returned by Send/Recv once the Conn has been closed, either
// locally or because the peer disconnected.
var ErrClosed = xerrors.New("control: connection closed")

// Conn wraps a raw net.Conn and runs paired send/recv goroutines exchanging
// Message values, the control-plane analogue of the teacher's
// remoteWorkerStream/remoteMasterStream (dbspgraph/stream.go) but built on a
// framed net.Conn instead of a gRPC bidi stream: the same shape serves both
// the Leader side and the Worker side, so flowmesh has one Conn type rather
// than two.
type Conn struct {
	conn   net.Conn
	recvCh chan Message
	sendCh chan Message
	sendErrCh chan error

	mu             sync.Mutex
	onDisconnectFn func()
	disconnected   bool
	closed         bool
}

// NewConn wraps an already-dialed/accepted net.Conn.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		conn:      nc,
		recvCh:    make(chan Message, 1),
		sendCh:    make(chan Message, 1),
		sendErrCh: make(chan error, 1),
	}
}

// HandleSendRecv runs the send loop, driving writes from SendChan() and
// reads into RecvChan(), until the connection fails, the context is
// cancelled, or Close is called. It blocks until then.
func (c *Conn) HandleSendRecv(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.handleRecv(ctx, cancel)

	for {
		select {
		case m := <-c.sendCh:
			if err := WriteMessage(c.conn, m); err != nil {
				return xerrors.Errorf("control conn: send: %w", err)
			}
		case err, ok := <-c.sendErrCh:
			if !ok {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) handleRecv(ctx context.Context, cancel func()) {
	for {
		m, err := ReadMessage(c.conn)
		if err != nil {
			c.handleDisconnect()
			cancel()
			return
		}
		select {
		case c.recvCh <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) handleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return
	}
	c.disconnected = true
	if c.onDisconnectFn != nil {
		c.onDisconnectFn()
	}
}

// RecvChan returns the channel of inbound messages.
func (c *Conn) RecvChan() <-chan Message { return c.recvCh }

// SendChan returns the channel to enqueue outbound messages on.
func (c *Conn) SendChan() chan<- Message { return c.sendCh }

// SetDisconnectCallback registers cb to run when the peer disconnects. If
// the peer has already disconnected, cb runs immediately.
func (c *Conn) SetDisconnectCallback(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnectFn = cb
	if c.disconnected {
		cb()
	}
}

// Close terminates HandleSendRecv's loop and closes the underlying conn. If
// err is non-nil, HandleSendRecv returns it to its caller.
func (c *Conn) Close(err error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err != nil {
		c.sendErrCh <- err
	}
	close(c.sendErrCh)
	return c.conn.Close()
}

// LocalAddr and RemoteAddr expose the underlying net.Conn's endpoints, used
// for logging and for recording a Worker's control-plane address.
func (c *Conn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
