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

package metrics

import (
	"strconv"

	"github.com/dcoles-net/bgpd/bgp"
)

// notifyWrapper decorates a bgp.Notify with collector increments, so
// the reactor's event plumbing stays the only place that calls
// Notify and metrics never need their own hook into the FSM.
type notifyWrapper struct {
	next bgp.Notify
}

// Wrap returns a bgp.Notify that increments the package collectors
// before forwarding every event to next (Nil{} is fine as next if the
// caller does not otherwise consume events).
func Wrap(next bgp.Notify) bgp.Notify {
	if next == nil {
		next = bgp.Nil{}
	}
	return &notifyWrapper{next: next}
}

func dirOf(sent bool) string {
	if sent {
		return "sent"
	}
	return "received"
}

func (w *notifyWrapper) State(peer, from, to string) {
	StateTransitionsTotal.WithLabelValues(peer, from, to).Inc()
	SessionState.WithLabelValues(peer, from).Set(0)
	SessionState.WithLabelValues(peer, to).Set(1)
	w.next.State(peer, from, to)
}

func (w *notifyWrapper) Notification(peer string, sent bool, n *bgp.Notification) {
	NotificationsTotal.WithLabelValues(peer, dirOf(sent), strconv.Itoa(int(n.Code)), strconv.Itoa(int(n.Sub))).Inc()
	w.next.Notification(peer, sent, n)
}

func (w *notifyWrapper) Update(peer string, sent bool, u *bgp.Update) {
	MessagesTotal.WithLabelValues(peer, "update", dirOf(sent)).Inc()
	w.next.Update(peer, sent, u)
}

func (w *notifyWrapper) Open(peer string, sent bool, o *bgp.Open) {
	MessagesTotal.WithLabelValues(peer, "open", dirOf(sent)).Inc()
	w.next.Open(peer, sent, o)
}

func (w *notifyWrapper) Refresh(peer string, r *bgp.RouteRefresh) {
	MessagesTotal.WithLabelValues(peer, "refresh", "received").Inc()
	w.next.Refresh(peer, r)
}
