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

// Package bgp implements the core of a BGP-4 speaker: wire codec,
// per-peer finite state machine and a per-peer Adj-RIB-Out/change
// engine. It does not select best paths across peers and does not
// program any kernel forwarding table.
//
// https://datatracker.ietf.org/doc/html/rfc4271 - A Border Gateway Protocol 4 (BGP-4)
// https://datatracker.ietf.org/doc/html/rfc4760 - Multiprotocol Extensions for BGP-4
// https://datatracker.ietf.org/doc/html/rfc3107 - Carrying Label Information in BGP-4
// https://datatracker.ietf.org/doc/html/rfc4364 - BGP/MPLS IP VPNs
// https://datatracker.ietf.org/doc/html/rfc5575 - Dissemination of Flow Specification Rules
// https://datatracker.ietf.org/doc/html/rfc7911 - Advertisement of Multiple Paths in BGP
// https://datatracker.ietf.org/doc/html/rfc6793 - BGP Support for Four-octet AS Number Space
// https://datatracker.ietf.org/doc/html/rfc7313 - Enhanced Route Refresh Capability for BGP-4
package bgp
