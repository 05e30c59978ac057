/*
 * VC5 load balancer. Copyright (C) 2021-present David Coles
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; either version 2 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License along
 * with this program; if not, write to the Free Software Foundation, Inc.,
 * 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.
 */

package bgp

import (
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

type pdu []byte

// connection is the transport for one TCP session to a peer. It is
// deliberately dumb: the reader and writer goroutines only move
// bytes, never touch FSM/RIB state, and the owning Peer (run from the
// single reactor goroutine) is the only consumer of Frames and
// producer of queued outbound messages.
type connection struct {
	Frames chan RawFrame
	Error  string

	closed      chan bool
	writerExit  chan bool
	readerExit  chan bool
	pending     chan bool
	conn        net.Conn
	mutex       sync.Mutex
	out         []pdu
}

// dial opens an active TCP connection to a peer, optionally bound to
// a specific local address (for multi-homed speakers / TTL-security
// setups).
func dial(local net.IP, remote string, port int) (*connection, error) {
	dialer := net.Dialer{Timeout: 10 * time.Second}

	if local != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: local, Port: 0}
	}

	if port == 0 {
		port = 179
	}

	conn, err := dialer.Dial("tcp", net.JoinHostPort(remote, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	return newConnection(conn), nil
}

// accept wraps an already-established inbound net.Conn (passive mode).
func accept(conn net.Conn) *connection {
	return newConnection(conn)
}

func newConnection(conn net.Conn) *connection {
	c := &connection{
		Frames:     make(chan RawFrame),
		closed:     make(chan bool),
		writerExit: make(chan bool),
		readerExit: make(chan bool),
		pending:    make(chan bool, 1),
		conn:       conn,
	}

	go c.writer()
	go c.reader()

	return c
}

func (c *connection) localAddr() (net.IP, bool) {
	if a, ok := c.conn.LocalAddr().(*net.TCPAddr); ok {
		return a.IP, true
	}
	return nil, false
}

func (c *connection) remoteAddr() (net.IP, bool) {
	if a, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		return a.IP, true
	}
	return nil, false
}

func (c *connection) close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

func (c *connection) shift() (pdu, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.out) < 1 {
		return nil, false
	}

	m := c.out[0]
	c.out = c.out[1:]

	select {
	case c.pending <- true: // more messages
	default:
	}

	return m, true
}

// queue enqueues one or more already-encoded messages for the writer
// goroutine to drain; it is the only way bytes leave a connection.
func (c *connection) queue(ms ...message) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, m := range ms {
		c.out = append(c.out, Encode(m))
	}

	select {
	case c.pending <- true:
	default:
	}
}

func (c *connection) drain() bool {
	for {
		m, ok := c.shift()
		if !ok {
			return true
		}

		c.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))

		if _, err := c.conn.Write(m); err != nil {
			c.Error = err.Error()
			return false
		}
	}
}

func (c *connection) writer() {
	defer close(c.writerExit)
	defer c.conn.Close()

	for {
		// if the peer closes the connection then the reader encounters
		// an error and exits (c.readerExit); if the user asks to close
		// the connection, c.closed is triggered directly.
		select {
		case <-c.closed:
			c.drain()
			return
		case <-c.readerExit:
			c.drain()
			return
		case <-c.pending:
			if !c.drain() {
				return
			}
		}
	}
}

func (c *connection) reader() {
	defer close(c.readerExit)
	defer close(c.Frames)

	// The reader frames directly off the wire rather than through
	// Framer: a live socket already hands us exactly one read worth of
	// header-then-body, so there is no partial-buffer state to keep
	// between reads. Framer exists for callers (tests, the control
	// pipe's replay tooling) that only have a byte stream, not a
	// blocking conn.
	for {
		var header [headerLen]byte

		n, err := io.ReadFull(c.conn, header[:])
		if n != len(header) || err != nil {
			if err != nil {
				c.Error = err.Error()
			}
			return
		}

		length := int(ntohs(header[16:18]))
		mtype := header[18]

		for _, b := range header[0:16] {
			if b != 0xff {
				c.Error = "bad marker"
				return
			}
		}
		if length < headerLen || length > 65535 {
			c.Error = "bad length"
			return
		}

		body := make([]byte, length-headerLen)
		if len(body) > 0 {
			n, err = io.ReadFull(c.conn, body)
			if n != len(body) || err != nil {
				if err != nil {
					c.Error = err.Error()
				}
				return
			}
		}

		select {
		case c.Frames <- RawFrame{Type: mtype, Body: body}:
		case <-c.closed:
			c.Error = "closed"
			return
		case <-c.writerExit:
			return
		}
	}
}
