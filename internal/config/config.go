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

// Package config loads the speaker's YAML configuration (peer table,
// listener, control pipe, metrics) via koanf, the way
// internal/config does it in the route-beacon ingester: a file
// provider layered with an environment-variable overlay, unmarshalled
// onto a struct carrying its own defaults.
package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dcoles-net/bgpd/bgp"
)

type Config struct {
	Service ServiceConfig          `koanf:"service"`
	Control ControlConfig          `koanf:"control"`
	Peers   map[string]PeerConfig  `koanf:"peers"`
}

type ServiceConfig struct {
	RouterID     string `koanf:"router_id"`
	LocalASN     uint32 `koanf:"local_asn"`
	ListenAddr   string `koanf:"listen_addr"`
	MetricsAddr  string `koanf:"metrics_addr"`
	LogLevel     string `koanf:"log_level"`
}

type ControlConfig struct {
	Prefix string `koanf:"prefix"` // FIFOs are <prefix>.in / <prefix>.out
}

// PeerConfig is the YAML shape of one neighbor; Build converts it to
// bgp.PeerConfig once the local router ID/ASN defaults and address
// parsing have been applied.
type PeerConfig struct {
	RemoteASN        uint32   `koanf:"remote_asn"`
	Address          string   `koanf:"address"`
	Port             int      `koanf:"port"`
	HoldTime         uint16   `koanf:"hold_time"`
	Families         []string `koanf:"families"`
	Passive          bool     `koanf:"passive"`
	MD5Key           string   `koanf:"md5_key"`
	TTLSecurity      int      `koanf:"ttl_security"`
	RouteRefresh     bool     `koanf:"route_refresh"`
	EnhancedRefresh  bool     `koanf:"enhanced_refresh"`
	ExtendedMessage  bool     `koanf:"extended_message"`
	FourOctetASN     bool     `koanf:"four_octet_asn"`
	SendAllWithdraws bool     `koanf:"send_all_withdraws"`
}

var familyNames = map[string]bgp.Family{
	"ipv4-unicast":   bgp.FAMILY_IPV4_UNICAST,
	"ipv4-multicast": bgp.FAMILY_IPV4_MULTICAST,
	"ipv4-labeled":   bgp.FAMILY_IPV4_MPLS,
	"ipv4-vpn":       bgp.FAMILY_IPV4_VPN,
	"ipv4-flowspec":  bgp.FAMILY_IPV4_FLOWSPEC,
	"ipv6-unicast":   bgp.FAMILY_IPV6_UNICAST,
	"ipv6-multicast": bgp.FAMILY_IPV6_MULTICAST,
	"ipv6-labeled":   bgp.FAMILY_IPV6_MPLS,
	"ipv6-vpn":       bgp.FAMILY_IPV6_VPN,
	"l2vpn-evpn":     bgp.FAMILY_L2VPN_EVPN,
}

// Build converts one configured peer into a bgp.PeerConfig, given the
// speaker-wide router ID and local ASN.
func (p PeerConfig) Build(routerID [4]byte, localASN uint32) (bgp.PeerConfig, error) {
	var families []bgp.Family
	for _, name := range p.Families {
		f, ok := familyNames[name]
		if !ok {
			return bgp.PeerConfig{}, fmt.Errorf("config: unknown family %q", name)
		}
		families = append(families, f)
	}
	if len(families) == 0 {
		families = []bgp.Family{bgp.FAMILY_IPV4_UNICAST}
	}

	port := p.Port
	if port == 0 {
		port = 179
	}

	return bgp.PeerConfig{
		LocalASN:         bgp.ASN(localASN),
		RemoteASN:        bgp.ASN(p.RemoteASN),
		RemoteAddress:    p.Address,
		Port:             port,
		RouterID:         routerID,
		HoldTime:         p.HoldTime,
		Families:         families,
		Passive:          p.Passive,
		MD5Key:           p.MD5Key,
		TTLSecurity:      p.TTLSecurity,
		RouteRefresh:     p.RouteRefresh,
		EnhancedRefresh:  p.EnhancedRefresh,
		ExtendedMessage:  p.ExtendedMessage,
		FourOctetASN:     p.FourOctetASN,
		SendAllWithdraws: p.SendAllWithdraws,
	}, nil
}

// Load reads path (if non-empty) as YAML, then overlays BGPD_-prefixed
// environment variables (BGPD_SERVICE__LOCAL_ASN -> service.local_asn),
// applying defaults before validating.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("BGPD_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPD_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			ListenAddr:  ":179",
			MetricsAddr: ":9179",
			LogLevel:    "info",
		},
		Control: ControlConfig{
			Prefix: "/var/run/bgpd/bgpd",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Service.RouterID == "" {
		return fmt.Errorf("config: service.router_id is required")
	}
	if net.ParseIP(c.Service.RouterID).To4() == nil {
		return fmt.Errorf("config: service.router_id %q is not a valid IPv4 address", c.Service.RouterID)
	}
	if c.Service.LocalASN == 0 {
		return fmt.Errorf("config: service.local_asn is required")
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("config: at least one entry under peers is required")
	}
	for name, p := range c.Peers {
		if p.Address == "" {
			return fmt.Errorf("config: peers.%s.address is required", name)
		}
		if p.RemoteASN == 0 {
			return fmt.Errorf("config: peers.%s.remote_asn is required", name)
		}
	}
	return nil
}

// RouterID parses the configured router ID into its wire form.
func (c *Config) RouterID() [4]byte {
	var id [4]byte
	ip := net.ParseIP(c.Service.RouterID).To4()
	copy(id[:], ip)
	return id
}

// PeerConfigs converts every configured peer into the bgp package's
// runtime PeerConfig, keyed by the same name used in the peers map.
func (c *Config) PeerConfigs() (map[string]bgp.PeerConfig, error) {
	out := map[string]bgp.PeerConfig{}
	id := c.RouterID()
	for name, p := range c.Peers {
		built, err := p.Build(id, c.Service.LocalASN)
		if err != nil {
			return nil, fmt.Errorf("config: peers.%s: %w", name, err)
		}
		out[name] = built
	}
	return out, nil
}
