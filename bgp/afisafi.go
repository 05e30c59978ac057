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

import "fmt"

// AFI identifies an address family - https://www.iana.org/assignments/address-family-numbers
type AFI uint16

const (
	AFI_IPV4   AFI = 1
	AFI_IPV6   AFI = 2
	AFI_L2VPN  AFI = 25
)

// SAFI identifies a sub-address-family within an AFI
type SAFI uint8

const (
	SAFI_UNICAST       SAFI = 1
	SAFI_MULTICAST     SAFI = 2
	SAFI_MPLS_LABEL    SAFI = 4   // labeled-unicast, RFC 3107
	SAFI_MPLS_VPN      SAFI = 128 // RFC 4364
	SAFI_FLOWSPEC      SAFI = 133 // RFC 5575
	SAFI_FLOWSPEC_VPN  SAFI = 134
	SAFI_EVPN          SAFI = 70 // RFC 7432, carried over AFI_L2VPN
)

// Family is an (AFI, SAFI) pair identifying a routing topology.
type Family struct {
	AFI  AFI
	SAFI SAFI
}

var (
	FAMILY_IPV4_UNICAST      = Family{AFI_IPV4, SAFI_UNICAST}
	FAMILY_IPV4_MULTICAST    = Family{AFI_IPV4, SAFI_MULTICAST}
	FAMILY_IPV4_MPLS         = Family{AFI_IPV4, SAFI_MPLS_LABEL}
	FAMILY_IPV4_VPN          = Family{AFI_IPV4, SAFI_MPLS_VPN}
	FAMILY_IPV4_FLOWSPEC     = Family{AFI_IPV4, SAFI_FLOWSPEC}
	FAMILY_IPV4_FLOWSPEC_VPN = Family{AFI_IPV4, SAFI_FLOWSPEC_VPN}
	FAMILY_IPV6_UNICAST      = Family{AFI_IPV6, SAFI_UNICAST}
	FAMILY_IPV6_MULTICAST    = Family{AFI_IPV6, SAFI_MULTICAST}
	FAMILY_IPV6_MPLS         = Family{AFI_IPV6, SAFI_MPLS_LABEL}
	FAMILY_IPV6_VPN          = Family{AFI_IPV6, SAFI_MPLS_VPN}
	FAMILY_L2VPN_EVPN        = Family{AFI_L2VPN, SAFI_EVPN}
)

func (f Family) String() string {
	afi := map[AFI]string{AFI_IPV4: "ipv4", AFI_IPV6: "ipv6", AFI_L2VPN: "l2vpn"}[f.AFI]
	safi := map[SAFI]string{
		SAFI_UNICAST:      "unicast",
		SAFI_MULTICAST:    "multicast",
		SAFI_MPLS_LABEL:   "mpls-labeled-unicast",
		SAFI_MPLS_VPN:     "mpls-vpn",
		SAFI_FLOWSPEC:     "flowspec",
		SAFI_FLOWSPEC_VPN: "flowspec-vpn",
		SAFI_EVPN:         "evpn",
	}[f.SAFI]

	if afi == "" {
		afi = fmt.Sprintf("afi(%d)", f.AFI)
	}
	if safi == "" {
		safi = fmt.Sprintf("safi(%d)", f.SAFI)
	}

	return afi + "/" + safi
}

// Labeled reports whether this family carries an MPLS label stack in
// its NLRI (RFC 3107 labeled-unicast and the VPN families).
func (f Family) Labeled() bool {
	switch f.SAFI {
	case SAFI_MPLS_LABEL, SAFI_MPLS_VPN:
		return true
	}
	return false
}

// RouteDistinguished reports whether this family's NLRI carries a
// route distinguisher (the VPN families).
func (f Family) RouteDistinguished() bool {
	switch f.SAFI {
	case SAFI_MPLS_VPN, SAFI_FLOWSPEC_VPN:
		return true
	}
	return false
}

// FlowSpec reports whether this family's NLRI is a flow specification
// rather than a prefix.
func (f Family) FlowSpec() bool {
	switch f.SAFI {
	case SAFI_FLOWSPEC, SAFI_FLOWSPEC_VPN:
		return true
	}
	return false
}
