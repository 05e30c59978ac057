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
	"net"
	"time"

	"github.com/dcoles-net/bgpd/internal/log"
)

type logger = log.Logger
type KV = log.KV

// Reactor owns every configured Peer and is the one goroutine
// permitted to touch FSM/RIB state - the single logical thread the
// rest of the package is built around. Everything else (reader/
// writer goroutines, the optional listener) only ever moves bytes or
// hands the Reactor a fully-formed event over a channel.
type Reactor struct {
	configure chan map[string]PeerConfig
	changes   chan Change
	statusReq chan chan map[string]Status
	accepted  chan acceptedConn
	teardown  chan string
	done      chan struct{}

	notify Notify
	log    logger

	listener net.Listener
}

type acceptedConn struct {
	remote string
	conn   net.Conn
}

// NewReactor starts the reactor goroutine with an initial peer set.
// If listenAddr is non-empty, it also accepts inbound TCP connections
// and routes each to the Peer configured for its remote address,
// closing anything from an unrecognised address (no passive catch-all
// - every peer must be explicitly configured).
func NewReactor(initial map[string]PeerConfig, listenAddr string, notify Notify, lg logger) (*Reactor, error) {
	if notify == nil {
		notify = Nil{}
	}
	if lg == nil {
		lg = log.Nil{}
	}

	r := &Reactor{
		configure: make(chan map[string]PeerConfig),
		changes:   make(chan Change, 1024),
		statusReq: make(chan chan map[string]Status),
		accepted:  make(chan acceptedConn),
		teardown:  make(chan string),
		done:      make(chan struct{}),
		notify:    notify,
		log:       lg,
	}

	if listenAddr != "" {
		ln, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return nil, err
		}
		r.listener = ln
		go r.acceptLoop(ln)
	}

	go r.run(initial)

	return r, nil
}

func (r *Reactor) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		remote, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		select {
		case r.accepted <- acceptedConn{remote: remote, conn: conn}:
		case <-r.done:
			conn.Close()
			return
		}
	}
}

// Configure replaces the full peer set: peers present in the map are
// added (if new) or left alone (if already running - config changes
// to a live peer take effect on its next reconnect), and peers absent
// from the map are torn down and removed.
func (r *Reactor) Configure(peers map[string]PeerConfig) {
	r.configure <- peers
}

// Push enqueues one RIB change to be fanned out to every peer whose
// negotiated (or configured) families include it.
func (r *Reactor) Push(c Change) {
	r.changes <- c
}

// Status returns the current Status of every configured peer, keyed
// by the same string used in Configure.
func (r *Reactor) Status() map[string]Status {
	c := make(chan map[string]Status)
	r.statusReq <- c
	return <-c
}

// Teardown implements the control pipe's `teardown <neighbor>` verb:
// a manual stop (NOTIFICATION Cease, close, IDLE, no auto-reconnect)
// for the single named peer, leaving every other peer untouched.
func (r *Reactor) Teardown(key string) {
	r.teardown <- key
}

// Close stops the reactor goroutine and every peer's transport.
func (r *Reactor) Close() {
	close(r.done)
	if r.listener != nil {
		r.listener.Close()
	}
}

func (r *Reactor) run(initial map[string]PeerConfig) {
	const F = "reactor"

	peers := map[string]*Peer{}
	for key, cfg := range initial {
		peers[key] = r.newPeer(key, cfg)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			for _, p := range peers {
				p.stop()
			}
			return

		case cfg := <-r.configure:
			for key, pc := range cfg {
				if p, ok := peers[key]; ok {
					p.Config = pc
				} else {
					peers[key] = r.newPeer(key, pc)
				}
			}
			for key, p := range peers {
				if _, ok := cfg[key]; !ok {
					p.stop()
					delete(peers, key)
					r.log.NOTICE(F, KV{"event": "deleted-peer", "peer": key})
				}
			}

		case c := <-r.changes:
			for _, p := range peers {
				p.Ingest(c)
			}

		case key := <-r.teardown:
			if p, ok := peerByNameOrAddress(peers, key); ok {
				p.stop()
				r.log.NOTICE(F, KV{"event": "teardown", "peer": key})
			}

		case a := <-r.accepted:
			p, ok := peerByAddress(peers, a.remote)
			if !ok {
				a.conn.Close()
				continue
			}
			p.Accepted(accept(a.conn))

		case creq := <-r.statusReq:
			s := map[string]Status{}
			for key, p := range peers {
				s[key] = p.Status()
			}
			creq <- s

		case <-ticker.C:
			now := time.Now()
			for _, p := range peers {
				p.tick(now)
			}
		}

		r.pollPeers(peers)
	}
}

// peerByAddress finds the peer configured for a given remote address -
// the config map is keyed by an operator-chosen name, not necessarily
// the address itself, so the accept path (which only knows the
// incoming socket's remote IP) must search by PeerConfig.RemoteAddress.
func peerByAddress(peers map[string]*Peer, addr string) (*Peer, bool) {
	for _, p := range peers {
		if p.Config.RemoteAddress == addr {
			return p, true
		}
	}
	return nil, false
}

// peerByNameOrAddress resolves a control-pipe `teardown <neighbor>`
// target, which operators may give as either the configured peer name
// or its remote address.
func peerByNameOrAddress(peers map[string]*Peer, key string) (*Peer, bool) {
	if p, ok := peers[key]; ok {
		return p, true
	}
	return peerByAddress(peers, key)
}

func (r *Reactor) newPeer(key string, cfg PeerConfig) *Peer {
	p := NewPeer(cfg, r.notify)
	r.log.NOTICE("reactor", KV{"event": "new-peer", "peer": key})
	p.start(time.Now())
	return p
}

// pollPeers gives every peer with a live connection one non-blocking
// chance to consume a ready frame and flush pending Adj-RIB-Out
// output, then moves on - this is the round-robin fairness batch the
// Reactor applies once per loop iteration, so no single noisy peer
// can starve the others' timers.
func (r *Reactor) pollPeers(peers map[string]*Peer) {
	now := time.Now()

	for _, p := range peers {
		if p.conn == nil {
			continue
		}

		select {
		case frame, ok := <-p.conn.Frames:
			if !ok {
				p.connClosed(now)
			} else {
				p.HandleFrame(frame, now)
			}
		default:
		}

		p.queueOutbound()
	}
}
