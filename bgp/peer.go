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
)

// PeerConfig is everything about a peer that comes from configuration
// and never changes at runtime without a reload.
type PeerConfig struct {
	LocalASN  ASN
	RemoteASN ASN

	LocalAddress  net.IP
	RemoteAddress string
	Port          int

	RouterID [4]byte

	HoldTime uint16 // 0 disables KEEPALIVE/HoldTimer entirely

	Families        []Family
	AddPath         map[Family]AddPathDirection
	GracefulRestart []Family
	RouteRefresh    bool
	EnhancedRefresh bool
	ExtendedMessage bool
	FourOctetASN    bool

	Passive bool // remain in ACTIVE; never initiate TCP

	MD5Key      string
	TTLSecurity int // 0 disables

	SendAllWithdraws bool
}

func (c PeerConfig) localCapabilities() Capabilities {
	caps := NewCapabilities().WithLocalASN(c.LocalASN)
	caps.MultiProtocol = c.Families
	caps.RouteRefresh = c.RouteRefresh
	caps.EnhancedRefresh = c.EnhancedRefresh
	caps.ExtendedMessage = c.ExtendedMessage
	caps.FourOctetASN = c.FourOctetASN
	caps.GracefulRestart = c.GracefulRestart
	caps.AddPath = c.AddPath
	return caps
}

// connectRetryInitial and connectRetryMax implement the ConnectRetry
// backoff per §4.6: default (and initial) 120s, doubling on each
// further dial failure but never exceeding the same 120s ceiling - so
// a peer that keeps failing to connect is retried steadily every 120s,
// matching the RFC 4271 ConnectRetryTimer default exactly rather than
// starting below it.
const (
	connectRetryInitial = 120 * time.Second
	connectRetryMax     = 120 * time.Second
)

// Peer is the runtime state of a single configured neighbor: the FSM
// state, the current transport (nil outside CONNECT/OPEN_*/
// ESTABLISHED), the negotiated Session once OPEN exchange completes,
// and one AdjRIBOut per negotiated family. Every field is touched only
// by the owning Reactor goroutine, its single logical thread.
type Peer struct {
	Config PeerConfig

	state string
	conn  *connection

	localCaps  Capabilities
	remoteCaps Capabilities
	sess       Session

	remoteID        [4]byte
	holdTime        uint16
	holdTimerDue    time.Time
	keepaliveDue    time.Time
	connectRetryDue time.Time
	connectRetry    time.Duration

	ribOut map[Family]*AdjRIBOut

	notify Notify
	status Status

	// pendingConn holds a second, not-yet-resolved connection observed
	// while already in OPEN_SENT/OPEN_CONFIRM, for collision resolution.
	pendingConn *connection
}

// NewPeer constructs a Peer in IDLE with an empty Adj-RIB-Out per
// configured family.
func NewPeer(cfg PeerConfig, notify Notify) *Peer {
	if notify == nil {
		notify = Nil{}
	}

	p := &Peer{
		Config:       cfg,
		state:        IDLE,
		localCaps:    cfg.localCapabilities(),
		connectRetry: connectRetryInitial,
		ribOut:       map[Family]*AdjRIBOut{},
		notify:       notify,
		status:       Status{State: IDLE, When: time.Now()},
	}

	for _, f := range cfg.Families {
		p.ribOut[f] = NewAdjRIBOut(f, cfg.SendAllWithdraws)
	}

	return p
}

func (p *Peer) setState(s string) {
	if p.state != s {
		p.notify.State(p.Config.RemoteAddress, p.state, s)
	}
	p.state = s
	p.status.State = s
	p.status.When = time.Now()
}

// Status reports the peer's externally-visible state.
func (p *Peer) Status() Status {
	st := p.status
	st.Duration = time.Since(st.When)
	if p.state == ESTABLISHED {
		var names []string
		for _, f := range p.sess.Families {
			names = append(names, f.String())
		}
		st.Families = names
	}
	st.RIBSizes = map[string]int{}
	for f, rib := range p.ribOut {
		st.RIBSizes[f.String()] = rib.Size()
	}
	return st
}

// Ingest hands one Change to the Adj-RIB-Out for its family, if that
// family was configured for this peer (silently dropped otherwise -
// the Reactor is responsible for fanning Changes out only to peers
// that might care, but a defensive check here costs nothing).
func (p *Peer) Ingest(c Change) {
	rib, ok := p.ribOut[c.NLRI.Family]
	if !ok {
		return
	}
	rib.Ingest(c)
}

// queueOutbound serialises this peer's pending Adj-RIB-Out entries
// into UPDATE messages and queues them on the transport, honouring
// the negotiated Session (add-path, 4-byte-ASN, max message size).
func (p *Peer) queueOutbound() {
	if p.state != ESTABLISHED || p.conn == nil {
		return
	}

	for _, rib := range p.ribOut {
		updates := rib.Flush(p.sess)
		for i := range updates {
			u := updates[i]
			p.conn.queue(&u)
			p.notify.Update(p.Config.RemoteAddress, true, &u)
		}
	}
}
