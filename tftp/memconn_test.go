package tftp

import (
	"net"
	"os"
	"sync"
	"time"
)

// memNet is an in-memory datagram network. It lets tests drive long
// transfers without real sockets.
type memNet struct {
	mu    sync.Mutex
	conns map[string]*memConn
}

type memPacket struct {
	b    []byte
	from net.Addr
}

func newMemNet() *memNet {
	return &memNet{conns: map[string]*memConn{}}
}

func (n *memNet) listen(port int) *memConn {
	c := &memConn{
		net:   n,
		local: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		in:    make(chan memPacket, 64),
		done:  make(chan struct{}),
	}
	n.mu.Lock()
	n.conns[c.local.String()] = c
	n.mu.Unlock()
	return c
}

func (n *memNet) lookup(addr net.Addr) *memConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[addr.String()]
}

type memConn struct {
	net   *memNet
	local net.Addr
	in    chan memPacket

	mu       sync.Mutex
	deadline time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func (c *memConn) ReadFrom(b []byte) (int, net.Addr, error) {
	c.mu.Lock()
	d := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !d.IsZero() {
		t := time.NewTimer(time.Until(d))
		defer t.Stop()
		timeout = t.C
	}
	select {
	case p := <-c.in:
		return copy(b, p.b), p.from, nil
	case <-timeout:
		return 0, nil, os.ErrDeadlineExceeded
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

func (c *memConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}
	dst := c.net.lookup(addr)
	if dst == nil {
		// Like UDP, sending into the void succeeds.
		return len(b), nil
	}
	p := memPacket{b: append([]byte(nil), b...), from: c.local}
	select {
	case dst.in <- p:
	default:
	}
	return len(b), nil
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *memConn) LocalAddr() net.Addr { return c.local }

func (c *memConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *memConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *memConn) SetWriteDeadline(time.Time) error { return nil }
