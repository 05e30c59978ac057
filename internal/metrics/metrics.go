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

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_messages_total",
			Help: "BGP messages sent or received, by peer, type and direction.",
		},
		[]string{"peer", "type", "direction"},
	)

	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_fsm_transitions_total",
			Help: "Peer FSM state transitions.",
		},
		[]string{"peer", "from", "to"},
	)

	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpd_session_state",
			Help: "1 if the peer is in the given state, 0 otherwise.",
		},
		[]string{"peer", "state"},
	)

	AdjRIBOutSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpd_adj_rib_out_size",
			Help: "Entries currently advertised in a peer's Adj-RIB-Out, by family.",
		},
		[]string{"peer", "family"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_notifications_total",
			Help: "NOTIFICATION messages sent or received, by code/sub-code.",
		},
		[]string{"peer", "direction", "code", "subcode"},
	)

	ControlCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_control_commands_total",
			Help: "Control pipe commands processed, by verb and outcome.",
		},
		[]string{"verb", "outcome"},
	)

	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_decode_errors_total",
			Help: "Malformed messages rejected during decode, by kind.",
		},
		[]string{"peer", "kind"},
	)
)

// Register adds every collector to the default Prometheus registry.
func Register() {
	prometheus.MustRegister(
		MessagesTotal,
		StateTransitionsTotal,
		SessionState,
		AdjRIBOutSize,
		NotificationsTotal,
		ControlCommandsTotal,
		DecodeErrorsTotal,
	)
}
