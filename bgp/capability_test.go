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

import "testing"

func TestNegotiateIntersectsFamilies(t *testing.T) {
	local := NewCapabilities()
	local.MultiProtocol = []Family{FAMILY_IPV4_UNICAST, FAMILY_IPV6_UNICAST}

	remote := NewCapabilities()
	remote.MultiProtocol = []Family{FAMILY_IPV4_UNICAST, FAMILY_IPV4_VPN}

	sess := Negotiate(local, remote)

	if len(sess.Families) != 1 || sess.Families[0] != FAMILY_IPV4_UNICAST {
		t.Fatalf("negotiated families = %+v, want only FAMILY_IPV4_UNICAST", sess.Families)
	}
}

func TestNegotiateRouteRefreshAndFourByteASNRequireBoth(t *testing.T) {
	local := NewCapabilities()
	local.RouteRefresh = true
	local.FourOctetASN = true

	remote := NewCapabilities()
	remote.RouteRefresh = false
	remote.FourOctetASN = true

	sess := Negotiate(local, remote)

	if sess.RouteRefresh {
		t.Fatal("route-refresh must require both sides to advertise it")
	}
	if !sess.FourOctetASN {
		t.Fatal("four-octet-ASN must be negotiated when both sides advertise it")
	}
}

func TestNegotiateEnhancedRefreshRequiresRouteRefresh(t *testing.T) {
	local := NewCapabilities()
	local.RouteRefresh = false
	local.EnhancedRefresh = true

	remote := NewCapabilities()
	remote.RouteRefresh = false
	remote.EnhancedRefresh = true

	sess := Negotiate(local, remote)

	if sess.EnhancedRefresh {
		t.Fatal("enhanced refresh cannot be active without route-refresh itself")
	}
}

func TestNegotiateAddPathDirectionBitmaskAND(t *testing.T) {
	local := NewCapabilities()
	local.MultiProtocol = []Family{FAMILY_IPV4_UNICAST}
	local.AddPath[FAMILY_IPV4_UNICAST] = AddPathSend // we can only send

	remote := NewCapabilities()
	remote.MultiProtocol = []Family{FAMILY_IPV4_UNICAST}
	remote.AddPath[FAMILY_IPV4_UNICAST] = AddPathBoth // remote offers both

	sess := Negotiate(local, remote)

	dir := sess.AddPath[FAMILY_IPV4_UNICAST]
	if dir&AddPathSend == 0 {
		t.Fatal("we should be able to send: remote offered to receive and we offered to send")
	}
	if dir&AddPathReceive != 0 {
		t.Fatal("we should not receive: we never offered AddPathReceive")
	}
}

func TestNegotiateAddPathNoneOmittedFromMap(t *testing.T) {
	local := NewCapabilities()
	local.MultiProtocol = []Family{FAMILY_IPV4_UNICAST}

	remote := NewCapabilities()
	remote.MultiProtocol = []Family{FAMILY_IPV4_UNICAST}

	sess := Negotiate(local, remote)

	if _, ok := sess.AddPath[FAMILY_IPV4_UNICAST]; ok {
		t.Fatal("a family with no negotiated add-path direction should not appear in the map")
	}
}

func TestMaxMessageSizeExtended(t *testing.T) {
	if got := (Session{}).MaxMessageSize(); got != 4096 {
		t.Fatalf("default MaxMessageSize = %d, want 4096", got)
	}
	if got := (Session{ExtendedMessage: true}).MaxMessageSize(); got != 65535 {
		t.Fatalf("extended MaxMessageSize = %d, want 65535", got)
	}
}

func TestCapabilitiesEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCapabilities()
	c.MultiProtocol = []Family{FAMILY_IPV4_UNICAST, FAMILY_IPV6_UNICAST, FAMILY_IPV4_VPN}
	c.RouteRefresh = true
	c.EnhancedRefresh = true
	c.FourOctetASN = true
	c.AddPath[FAMILY_IPV4_UNICAST] = AddPathBoth
	c = c.WithLocalASN(4200000000)

	enc := EncodeCapabilities(c)

	param := append([]byte{CAPABILITIES_OPTIONAL_PARAMETER, byte(len(enc))}, enc...)
	dec, asn4, err := DecodeCapabilities(param)
	if err != nil {
		t.Fatalf("DecodeCapabilities: %v", err)
	}

	if len(dec.MultiProtocol) != 3 {
		t.Fatalf("decoded %d families, want 3", len(dec.MultiProtocol))
	}
	if !dec.RouteRefresh || !dec.EnhancedRefresh {
		t.Fatal("route-refresh / enhanced-refresh capability lost in round trip")
	}
	if !dec.FourOctetASN || asn4 != 4200000000 {
		t.Fatalf("four-octet-ASN lost or wrong: FourOctetASN=%v asn4=%d", dec.FourOctetASN, asn4)
	}
	if dec.AddPath[FAMILY_IPV4_UNICAST] != AddPathBoth {
		t.Fatalf("add-path direction = %v, want AddPathBoth", dec.AddPath[FAMILY_IPV4_UNICAST])
	}
}
