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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dcoles-net/bgpd/bgp"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bgpd.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validYAML = `
service:
  router_id: 192.0.2.1
  local_asn: 65000
peers:
  upstream:
    remote_asn: 65001
    address: 192.0.2.2
    families: ["ipv4-unicast", "ipv4-vpn"]
`

func TestLoadValidConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.ListenAddr != ":179" {
		t.Errorf("ListenAddr default = %q, want :179", cfg.Service.ListenAddr)
	}
	if cfg.Service.MetricsAddr != ":9179" {
		t.Errorf("MetricsAddr default = %q, want :9179", cfg.Service.MetricsAddr)
	}
	if cfg.Control.Prefix != "/var/run/bgpd/bgpd" {
		t.Errorf("Control.Prefix default = %q", cfg.Control.Prefix)
	}
	if len(cfg.Peers) != 1 {
		t.Fatalf("got %d peers, want 1", len(cfg.Peers))
	}
}

func TestLoadMissingRouterIDFails(t *testing.T) {
	const yaml = `
service:
  local_asn: 65000
peers:
  upstream:
    remote_asn: 65001
    address: 192.0.2.2
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatal("expected validation error for a missing router_id")
	}
}

func TestLoadInvalidRouterIDFails(t *testing.T) {
	const yaml = `
service:
  router_id: not-an-ip
  local_asn: 65000
peers:
  upstream:
    remote_asn: 65001
    address: 192.0.2.2
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatal("expected validation error for a malformed router_id")
	}
}

func TestLoadNoPeersFails(t *testing.T) {
	const yaml = `
service:
  router_id: 192.0.2.1
  local_asn: 65000
peers: {}
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatal("expected validation error when no peers are configured")
	}
}

func TestLoadPeerMissingAddressFails(t *testing.T) {
	const yaml = `
service:
  router_id: 192.0.2.1
  local_asn: 65000
peers:
  upstream:
    remote_asn: 65001
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatal("expected validation error for a peer missing its address")
	}
}

func TestPeerConfigsMapsFamilyNames(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	peers, err := cfg.PeerConfigs()
	if err != nil {
		t.Fatalf("PeerConfigs: %v", err)
	}

	p, ok := peers["upstream"]
	if !ok {
		t.Fatal("expected a peer named \"upstream\"")
	}
	if len(p.Families) != 2 || p.Families[0] != bgp.FAMILY_IPV4_UNICAST || p.Families[1] != bgp.FAMILY_IPV4_VPN {
		t.Fatalf("peer families = %+v", p.Families)
	}
	if p.RemoteASN != 65001 {
		t.Fatalf("RemoteASN = %d, want 65001", p.RemoteASN)
	}
	if p.Port != 179 {
		t.Fatalf("default Port = %d, want 179", p.Port)
	}
	if p.RouterID != [4]byte{192, 0, 2, 1} {
		t.Fatalf("RouterID = %v, want 192.0.2.1", p.RouterID)
	}
}

func TestPeerConfigsRejectsUnknownFamily(t *testing.T) {
	const yaml = `
service:
  router_id: 192.0.2.1
  local_asn: 65000
peers:
  upstream:
    remote_asn: 65001
    address: 192.0.2.2
    families: ["not-a-real-family"]
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.PeerConfigs(); err == nil {
		t.Fatal("expected an error building a peer with an unrecognised family name")
	}
}

func TestPeerConfigsDefaultsToIPv4UnicastWhenFamiliesOmitted(t *testing.T) {
	const yaml = `
service:
  router_id: 192.0.2.1
  local_asn: 65000
peers:
  upstream:
    remote_asn: 65001
    address: 192.0.2.2
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	peers, err := cfg.PeerConfigs()
	if err != nil {
		t.Fatalf("PeerConfigs: %v", err)
	}
	p := peers["upstream"]
	if len(p.Families) != 1 || p.Families[0] != bgp.FAMILY_IPV4_UNICAST {
		t.Fatalf("default families = %+v, want [FAMILY_IPV4_UNICAST]", p.Families)
	}
}
