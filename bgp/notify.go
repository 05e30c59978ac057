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

// Notify is the event sink the Reactor and each Peer report through -
// the BGP-specific analogue of the near-empty log.Log interface.
// internal/control's event encoder is the production implementation
// (it renders the lines documented for the control pipe's .out FIFO);
// Nil is for callers (tests, single-peer exercises) that don't care.
type Notify interface {
	State(peer string, from, to string)
	Notification(peer string, sent bool, n *Notification)
	Update(peer string, sent bool, u *Update)
	Open(peer string, sent bool, o *Open)
	Refresh(peer string, r *RouteRefresh)
}

// Nil discards every event, matching the log.Nil pattern.
type Nil struct{}

func (Nil) State(string, string, string)          {}
func (Nil) Notification(string, bool, *Notification) {}
func (Nil) Update(string, bool, *Update)          {}
func (Nil) Open(string, bool, *Open)              {}
func (Nil) Refresh(string, *RouteRefresh)         {}
