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
	"time"
)

// FSM state names, per RFC 4271 §8.
const (
	IDLE         = "IDLE"
	CONNECT      = "CONNECT"
	ACTIVE       = "ACTIVE"
	OPEN_SENT    = "OPEN_SENT"
	OPEN_CONFIRM = "OPEN_CONFIRM"
	ESTABLISHED  = "ESTABLISHED"
)

// Status is the externally-observable state of one Peer, returned by
// Peer.Status() (and, for every peer, Reactor.Status()); cmd/bgp.go
// reads its RIBSizes to set the internal/metrics AdjRIBOutSize gauge.
type Status struct {
	State       string        `json:"state"`
	When        time.Time     `json:"when"`
	Duration    time.Duration `json:"duration_s"`
	Attempts    uint64        `json:"connection_attempts"`
	Connections uint64        `json:"successful_connections"`
	Established uint64        `json:"established_sessions"`
	LastError   string        `json:"last_error"`
	HoldTime    uint16        `json:"hold_time"`
	LocalASN    ASN           `json:"local_asn"`
	RemoteASN   ASN           `json:"remote_asn"`
	LocalIP     string        `json:"local_ip"`
	Families    []string      `json:"negotiated_families"`
	RIBSizes    map[string]int `json:"adj_rib_out_sizes"`
}
