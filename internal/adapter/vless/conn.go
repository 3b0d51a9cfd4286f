package vless

import (
	"net"
	"sync/atomic"
)

// countingConn tracks cumulative bytes moved over the wire. The counters
// are read by the statistics snapshot while the session goroutines write
// through Read/Write, hence the atomics.
type countingConn struct {
	net.Conn
	rx atomic.Uint64
	tx atomic.Uint64
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.rx.Add(uint64(n))
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.tx.Add(uint64(n))
	return n, err
}

func (c *countingConn) counters() (rx, tx uint64) {
	return c.rx.Load(), c.tx.Load()
}
