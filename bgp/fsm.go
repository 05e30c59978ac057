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

import "time"

// This file implements the RFC 4271 §8 per-peer state machine as a
// set of methods the Reactor drives - one tick at a time, never in a
// dedicated goroutine of its own.

// start moves a peer out of IDLE: active peers dial immediately (with
// connectRetry backoff already primed by NewPeer), passive peers sit
// in ACTIVE and wait for the Reactor to hand them an accepted
// connection via Accepted.
func (p *Peer) start(now time.Time) {
	if p.state != IDLE {
		return
	}
	p.status.Attempts++
	if p.Config.Passive {
		p.setState(ACTIVE)
		return
	}
	p.setState(CONNECT)
	p.connectRetryDue = now
}

// stop implements the manual-stop event: a CEASE NOTIFICATION if a
// connection is up, then IDLE with no automatic reconnect until start
// is called again.
func (p *Peer) stop() {
	if p.conn != nil {
		p.conn.queue(&Notification{Code: CEASE, Sub: ADMINISTRATIVE_SHUTDOWN})
		p.notify.Notification(p.Config.RemoteAddress, true, &Notification{Code: CEASE, Sub: ADMINISTRATIVE_SHUTDOWN})
		p.conn.close()
		p.conn = nil
	}
	p.setState(IDLE)
}

// tick drives time-based transitions: ConnectRetry expiry in
// CONNECT (a peer in ACTIVE is never redialed here), HoldTimer expiry in OPEN_SENT/OPEN_CONFIRM/
// ESTABLISHED, and KeepaliveTimer firing in OPEN_CONFIRM/ESTABLISHED.
// The Reactor calls this once per peer per pass.
func (p *Peer) tick(now time.Time) {
	switch p.state {
	case CONNECT, ACTIVE:
		if !p.Config.Passive && p.state == CONNECT && !p.connectRetryDue.IsZero() && now.After(p.connectRetryDue) {
			p.tryConnect(now)
		}

	case OPEN_SENT, OPEN_CONFIRM, ESTABLISHED:
		if p.holdTime != 0 && now.After(p.holdTimerDue) {
			p.holdTimerExpired()
			return
		}
		if p.holdTime != 0 && (p.state == OPEN_CONFIRM || p.state == ESTABLISHED) && now.After(p.keepaliveDue) {
			p.sendKeepalive(now)
		}
	}
}

func (p *Peer) tryConnect(now time.Time) {
	c, err := dial(p.Config.LocalAddress, p.Config.RemoteAddress, p.Config.Port)
	if err != nil {
		p.status.LastError = err.Error()
		p.backoff(now)
		// stay in CONNECT (not ACTIVE) so tick's ConnectRetry-expiry
		// check, which only fires for state == CONNECT, retries this
		// peer again once connectRetryDue elapses.
		p.setState(CONNECT)
		return
	}
	p.conn = c
	p.status.Connections++
	p.sendOpen(now)
}

// Accepted hands the Reactor an inbound TCP connection (passive mode,
// or collision resolution while already dialing). Per RFC 4271 §8,
// a connection arriving while one is already in OPEN_SENT/OPEN_CONFIRM
// is held as pendingConn; once this session reaches ESTABLISHED (the
// remote BGP Identifier then being known from its OPEN),
// resolveCollisionIfPending decides which survives.
func (p *Peer) Accepted(c *connection) {
	switch p.state {
	case IDLE:
		c.close()
	case CONNECT, ACTIVE:
		p.conn = c
		p.status.Connections++
		p.sendOpen(time.Now())
	case OPEN_SENT, OPEN_CONFIRM:
		if p.pendingConn != nil {
			p.pendingConn.close()
		}
		p.pendingConn = c
	case ESTABLISHED:
		// a third connection attempt while already up is simply rejected
		c.close()
	}
}

func (p *Peer) backoff(now time.Time) {
	p.connectRetry *= 2
	if p.connectRetry > connectRetryMax {
		p.connectRetry = connectRetryMax
	}
	p.connectRetryDue = now.Add(p.connectRetry)
}

func (p *Peer) sendOpen(now time.Time) {
	p.setState(OPEN_SENT)

	open := &Open{
		Version:  4,
		ASN:      localASNField(p.Config.LocalASN),
		HoldTime: p.Config.HoldTime,
		ID:       p.Config.RouterID,
		Caps:     p.localCaps,
	}
	p.conn.queue(open)
	p.notify.Open(p.Config.RemoteAddress, true, open)

	// the HoldTimer runs from the moment OPEN is sent, per RFC 4271
	// §8's "Event 18" handling, using our own advertised HoldTime until
	// the remote's OPEN lets us negotiate the final, smaller value.
	if p.Config.HoldTime != 0 {
		p.holdTimerDue = now.Add(time.Duration(p.Config.HoldTime) * time.Second)
	}
}

// localASNField returns the 2-byte-field value to carry in the OPEN's
// fixed ASN field: the real ASN if it fits, otherwise AS_TRANS with
// the real value riding in the four-octet-ASN capability.
func localASNField(asn ASN) ASN {
	if asn > 65535 {
		return AS_TRANS
	}
	return asn
}

// HandleFrame dispatches one RawFrame read off the peer's connection.
// Decode errors are translated into a NOTIFICATION and the session is
// torn down; this is the single place malformed input is turned into
// RFC-defined teardown behaviour, per the error handling design.
func (p *Peer) HandleFrame(frame RawFrame, now time.Time) {
	msg, err := DecodeMessage(frame.Type, frame.Body, p.sess)
	if err != nil {
		code, sub := notificationFor(err)
		p.failSession(code, sub, now)
		return
	}

	switch m := msg.(type) {
	case *Open:
		p.handleOpen(m, now)
	case *Keepalive:
		p.handleKeepalive(now)
	case *Update:
		p.handleUpdate(m, now)
	case *Notification:
		p.notify.Notification(p.Config.RemoteAddress, false, m)
		p.closeConn()
		p.setState(IDLE)
		p.scheduleRestart(now)
	case *RouteRefresh:
		p.notify.Refresh(p.Config.RemoteAddress, m)
	}
}

func (p *Peer) handleOpen(o *Open, now time.Time) {
	if p.state != OPEN_SENT {
		p.failSession(FSM_ERROR, 0, now)
		return
	}

	p.notify.Open(p.Config.RemoteAddress, false, o)

	if o.HoldTime != 0 && o.HoldTime < 3 {
		p.failSession(OPEN_ERROR, UNNACEPTABLE_HOLD_TIME, now)
		return
	}

	p.remoteCaps = o.Caps
	p.remoteID = o.ID
	p.sess = Negotiate(p.localCaps, o.Caps)

	p.holdTime = p.Config.HoldTime
	if o.HoldTime != 0 && (p.holdTime == 0 || o.HoldTime < p.holdTime) {
		p.holdTime = o.HoldTime
	}
	p.status.HoldTime = p.holdTime

	p.conn.queue(&Keepalive{})
	if p.holdTime != 0 {
		p.holdTimerDue = now.Add(time.Duration(p.holdTime) * time.Second)
		p.keepaliveDue = now.Add(time.Duration(p.holdTime/3) * time.Second)
	}

	p.setState(OPEN_CONFIRM)
}

func (p *Peer) handleKeepalive(now time.Time) {
	switch p.state {
	case OPEN_CONFIRM:
		p.connectRetry = connectRetryInitial
		p.status.Established++
		p.status.LocalASN = p.Config.LocalASN
		p.status.RemoteASN = p.Config.RemoteASN
		p.setState(ESTABLISHED)
		p.requeueGracefulRIBs()
		p.resolveCollisionIfPending(now)
	case ESTABLISHED:
		// just a liveness signal
	default:
		p.failSession(FSM_ERROR, 0, now)
		return
	}
	if p.holdTime != 0 {
		p.holdTimerDue = now.Add(time.Duration(p.holdTime) * time.Second)
	}
}

func (p *Peer) handleUpdate(u *Update, now time.Time) {
	if p.state != ESTABLISHED {
		p.failSession(FSM_ERROR, 0, now)
		return
	}
	if p.holdTime != 0 {
		p.holdTimerDue = now.Add(time.Duration(p.holdTime) * time.Second)
	}
	p.notify.Update(p.Config.RemoteAddress, false, u)
}

// requeueGracefulRIBs re-emits the retained Adj-RIB-Out in full for
// every family this newly-ESTABLISHED session negotiated graceful
// restart for, so a peer that just came back sees the complete set of
// routes again rather than only the deltas since the outage.
func (p *Peer) requeueGracefulRIBs() {
	for _, f := range p.sess.GracefulRestart {
		if rib, ok := p.ribOut[f]; ok {
			rib.Requeue()
		}
	}
}

// resolveCollisionIfPending implements RFC 4271 §6.8: if a second
// connection arrived while this one was still negotiating, the
// connection initiated by the BGP speaker with the higher BGP
// Identifier survives.
func (p *Peer) resolveCollisionIfPending(now time.Time) {
	if p.pendingConn == nil {
		return
	}
	pending := p.pendingConn
	p.pendingConn = nil

	if greaterID(p.remoteID, p.Config.RouterID) {
		// remote wins: close ours, adopt the pending one from scratch
		p.closeConn()
		p.conn = pending
		p.setState(ACTIVE)
		p.sendOpen(now)
		return
	}

	pending.queue(&Notification{Code: CEASE, Sub: CONNECTION_COLLISION_RESOLUTION})
	pending.close()
}

func greaterID(a, b [4]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func (p *Peer) sendKeepalive(now time.Time) {
	p.conn.queue(&Keepalive{})
	p.keepaliveDue = now.Add(time.Duration(p.holdTime/3) * time.Second)
}

func (p *Peer) holdTimerExpired() {
	p.failSession(HOLD_TIMER_EXPIRED, 0, time.Now())
}

// connClosed handles the transport disappearing out from under the
// peer (reader goroutine hit EOF or an error): same teardown path as
// a decode failure, minus sending a NOTIFICATION nobody can receive.
func (p *Peer) connClosed(now time.Time) {
	if p.state == IDLE {
		return
	}
	p.status.LastError = p.conn.Error
	p.closeConn()
	p.setState(IDLE)
	p.scheduleRestart(now)
}

// failSession sends a NOTIFICATION (when a connection exists), tears
// the transport down, and schedules a reconnect per the ConnectRetry
// backoff - the common path for every decode/protocol error in
// OPEN_SENT/OPEN_CONFIRM/ESTABLISHED.
func (p *Peer) failSession(code, sub uint8, now time.Time) {
	n := &Notification{Code: code, Sub: sub}
	if p.conn != nil {
		p.conn.queue(n)
		p.notify.Notification(p.Config.RemoteAddress, true, n)
	}
	p.status.LastError = n.String()
	p.closeConn()
	p.setState(IDLE)
	p.scheduleRestart(now)
}

func (p *Peer) closeConn() {
	if p.conn != nil {
		p.conn.close()
		p.conn = nil
	}
	if p.pendingConn != nil {
		p.pendingConn.close()
		p.pendingConn = nil
	}
	p.flushNonGracefulRIBs()
	p.sess = Session{}
}

// flushNonGracefulRIBs implements §4.6's graceful-restart policy: a
// family the session negotiated graceful restart for keeps its
// Adj-RIB-Out intact across the outage, to be re-emitted in full once
// the peer re-reaches ESTABLISHED; every other family's Adj-RIB-Out is
// discarded, since nothing durable was promised for it.
func (p *Peer) flushNonGracefulRIBs() {
	stale := map[Family]bool{}
	for _, f := range p.sess.GracefulRestart {
		stale[f] = true
	}
	for f, rib := range p.ribOut {
		if !stale[f] {
			p.ribOut[f] = NewAdjRIBOut(f, rib.sendAllWithdraws)
		}
	}
}

func (p *Peer) scheduleRestart(now time.Time) {
	if p.Config.Passive {
		p.setState(ACTIVE)
		return
	}
	p.backoff(now)
	p.setState(CONNECT)
}
