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
	"testing"
	"time"
)

func TestPeerByAddressFindsConfiguredRemote(t *testing.T) {
	peers := map[string]*Peer{
		"some-friendly-name": NewPeer(PeerConfig{RemoteAddress: "192.0.2.2"}, Nil{}),
	}

	p, ok := peerByAddress(peers, "192.0.2.2")
	if !ok || p == nil {
		t.Fatal("peerByAddress did not find the peer by its configured remote address")
	}

	if _, ok := peerByAddress(peers, "192.0.2.99"); ok {
		t.Fatal("peerByAddress matched an address nothing was configured with")
	}
}

func TestPeerByNameOrAddressPrefersConfigName(t *testing.T) {
	peers := map[string]*Peer{
		"edge1": NewPeer(PeerConfig{RemoteAddress: "192.0.2.2"}, Nil{}),
	}

	byName, ok := peerByNameOrAddress(peers, "edge1")
	if !ok || byName.Config.RemoteAddress != "192.0.2.2" {
		t.Fatal("peerByNameOrAddress must resolve by the config map key first")
	}

	byAddr, ok := peerByNameOrAddress(peers, "192.0.2.2")
	if !ok || byAddr != byName {
		t.Fatal("peerByNameOrAddress must fall back to matching by remote address")
	}
}

func TestReactorTeardownStopsOnlyTheNamedPeer(t *testing.T) {
	initial := map[string]PeerConfig{
		"edge1": {RemoteAddress: "192.0.2.2", Passive: true, Families: []Family{FAMILY_IPV4_UNICAST}},
		"edge2": {RemoteAddress: "192.0.2.3", Passive: true, Families: []Family{FAMILY_IPV4_UNICAST}},
	}

	r, err := NewReactor(initial, "", Nil{}, nil)
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	defer r.Close()

	r.Teardown("edge1")

	var status map[string]Status
	for i := 0; i < 50; i++ {
		status = r.Status()
		if status["edge1"].State == IDLE && status["edge2"].State == ACTIVE {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if status["edge1"].State != IDLE {
		t.Fatalf("edge1 state = %s, want %s after Teardown", status["edge1"].State, IDLE)
	}
	if status["edge2"].State != ACTIVE {
		t.Fatalf("edge2 state = %s, want %s (untouched by edge1's Teardown)", status["edge2"].State, ACTIVE)
	}
}
