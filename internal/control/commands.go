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

package control

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/dcoles-net/bgpd/bgp"
)

// Command is one parsed line from the control pipe's .in FIFO. Verb
// is always set; exactly the fields relevant to Verb are populated -
// Change for announce/withdraw, Target for teardown, nothing extra
// for the bare shutdown/restart/reload/version verbs.
type Command struct {
	Verb     string
	Neighbor string // "" unless the line was scoped with "neighbor <ip> ..."
	Change   *bgp.Change
	Target   string
	Raw      string
	Err      error
}

// handler parses the tokens after the verb (and after any leading
// "neighbor <ip>" scope, already stripped) into a Command.
type handler func(args []string) (Command, error)

// commandTable is populated at package init - a table of keyword to
// handler, not a registration-by-decorator scheme, per the Design
// Notes' guidance and mirroring exabgp's own dispatch in
// application/bgp.go.
var commandTable = map[string]handler{
	"announce": handleAnnounce,
	"withdraw": handleWithdraw,
	"shutdown": handleBareVerb("shutdown"),
	"restart":  handleBareVerb("restart"),
	"reload":   handleBareVerb("reload"),
	"version":  handleBareVerb("version"),
	"teardown": handleTeardown,
}

// ParseLine tokenizes and dispatches one control-pipe command line.
func ParseLine(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, fmt.Errorf("control: empty command")
	}

	fields := tokenize(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("control: empty command")
	}

	var neighbor string
	if fields[0] == "neighbor" {
		if len(fields) < 3 {
			return Command{}, fmt.Errorf("control: %q: neighbor scope missing verb", line)
		}
		neighbor = fields[1]
		fields = fields[2:]
	}

	verb := fields[0]
	h, ok := commandTable[verb]
	if !ok {
		return Command{}, fmt.Errorf("control: unrecognised command %q", verb)
	}

	cmd, err := h(fields[1:])
	cmd.Verb = verb
	cmd.Neighbor = neighbor
	if err != nil {
		return cmd, fmt.Errorf("control: %q: %w", line, err)
	}
	return cmd, nil
}

func handleBareVerb(verb string) handler {
	return func(args []string) (Command, error) {
		return Command{}, nil
	}
}

func handleTeardown(args []string) (Command, error) {
	if len(args) < 1 {
		return Command{}, fmt.Errorf("teardown requires a neighbor")
	}
	return Command{Target: args[0]}, nil
}

func handleAnnounce(args []string) (Command, error) {
	if len(args) < 1 {
		return Command{}, fmt.Errorf("announce requires a kind (route, vpn, flow)")
	}
	switch args[0] {
	case "route":
		c, err := parseRoute(args[1:], bgp.ANNOUNCE)
		return Command{Change: c}, err
	case "vpn":
		c, err := parseVPN(args[1:], bgp.ANNOUNCE)
		return Command{Change: c}, err
	case "flow":
		c, err := parseFlow(args[1:], bgp.ANNOUNCE)
		return Command{Change: c}, err
	}
	return Command{}, fmt.Errorf("announce: unrecognised kind %q", args[0])
}

func handleWithdraw(args []string) (Command, error) {
	if len(args) < 1 {
		return Command{}, fmt.Errorf("withdraw requires a kind (route, vpn, flow)")
	}
	switch args[0] {
	case "route":
		c, err := parseRoute(args[1:], bgp.WITHDRAW)
		return Command{Change: c}, err
	case "vpn":
		c, err := parseVPN(args[1:], bgp.WITHDRAW)
		return Command{Change: c}, err
	case "flow":
		c, err := parseFlow(args[1:], bgp.WITHDRAW)
		return Command{Change: c}, err
	}
	return Command{}, fmt.Errorf("withdraw: unrecognised kind %q", args[0])
}

// tokenize splits a command line on whitespace, keeping double-quoted
// substrings (used for as-path lists) and flow-block punctuation
// ('{', '}', ';') as individual tokens.
func tokenize(line string) []string {
	replacer := strings.NewReplacer("{", " { ", "}", " } ", ";", " ; ")
	line = replacer.Replace(line)

	var tokens []string
	var buf strings.Builder
	inQuote := false

	flush := func() {
		if buf.Len() > 0 {
			tokens = append(tokens, buf.String())
			buf.Reset()
		}
	}

	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' || r == '\t':
			if inQuote {
				buf.WriteRune(r)
			} else {
				flush()
			}
		default:
			buf.WriteRune(r)
		}
	}
	flush()

	return tokens
}

// parseRoute builds a Change for "announce route <prefix> next-hop
// <ip> [med N] [local-pref N] [origin igp|egp|incomplete] [community
// C ...] [as-path "N N N"]".
func parseRoute(args []string, action bgp.Action) (*bgp.Change, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("route requires a prefix")
	}

	nlri, err := parsePrefixNLRI(args[0], action)
	if err != nil {
		return nil, err
	}

	attrs, err := parseAttributes(args[1:])
	if err != nil {
		return nil, err
	}

	return &bgp.Change{NLRI: nlri, Attributes: attrs}, nil
}

// parseVPN builds a Change for "announce vpn <RD>:<prefix> label <L>
// [rd <RD>] next-hop <ip> [...]" - RD:prefix is split by taking
// everything before the mask as the RD+prefix run and splitting that
// on its second ':' (every RD form holds exactly one), so an IPv6
// prefix after it may contain further ':'.
func parseVPN(args []string, action bgp.Action) (*bgp.Change, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("vpn requires an <rd>:<prefix>")
	}

	rd, prefixStr, err := splitRDPrefix(args[0])
	if err != nil {
		return nil, err
	}

	nlri, err := parsePrefixNLRI(prefixStr, action)
	if err != nil {
		return nil, err
	}
	nlri.HasRD = true
	nlri.RD = rd

	if nlri.Family.AFI == bgp.AFI_IPV6 {
		nlri.Family = bgp.FAMILY_IPV6_VPN
	} else {
		nlri.Family = bgp.FAMILY_IPV4_VPN
	}

	rest := args[1:]
	var label uint32
	var labelSet bool

	for i := 0; i < len(rest); {
		switch rest[i] {
		case "label":
			if i+1 >= len(rest) {
				return nil, fmt.Errorf("label requires a value")
			}
			v, err := strconv.ParseUint(rest[i+1], 10, 20)
			if err != nil {
				return nil, fmt.Errorf("label: %w", err)
			}
			label = uint32(v)
			labelSet = true
			rest = append(rest[:i], rest[i+2:]...)
		case "rd":
			if i+1 >= len(rest) {
				return nil, fmt.Errorf("rd requires a value")
			}
			explicit, err := bgp.ParseRD(rest[i+1])
			if err != nil {
				return nil, err
			}
			nlri.RD = explicit
			rest = append(rest[:i], rest[i+2:]...)
		default:
			i++
		}
	}

	if action == bgp.ANNOUNCE {
		if !labelSet {
			return nil, fmt.Errorf("vpn announce requires a label")
		}
		nlri.Labels = []bgp.Label{{Value: label}}
	}

	attrs, err := parseAttributes(rest)
	if err != nil {
		return nil, err
	}

	return &bgp.Change{NLRI: nlri, Attributes: attrs}, nil
}

func splitRDPrefix(s string) (bgp.RD, string, error) {
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return bgp.RD{}, "", fmt.Errorf("vpn route missing mask: %s", s)
	}
	head, mask := s[:slash], s[slash:]

	i := strings.IndexByte(head, ':')
	if i >= 0 {
		if j := strings.IndexByte(head[i+1:], ':'); j >= 0 {
			i += 1 + j
		} else {
			i = -1
		}
	}
	if i < 0 {
		return bgp.RD{}, "", fmt.Errorf("vpn route missing route distinguisher: %s", s)
	}
	rdPart, addrPart := head[:i], head[i+1:]

	rd, err := bgp.ParseRD(rdPart)
	if err != nil {
		return bgp.RD{}, "", err
	}

	return rd, addrPart + mask, nil
}

// parsePrefixNLRI parses a bare "a.b.c.d/n" or "ipv6/n" CIDR into an
// ANNOUNCE/WITHDRAW ipv4-unicast or ipv6-unicast NLRI.
func parsePrefixNLRI(s string, action bgp.Action) (bgp.NLRI, error) {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return bgp.NLRI{}, fmt.Errorf("invalid prefix %q: %w", s, err)
	}
	mask, _ := ipnet.Mask.Size()

	family := bgp.FAMILY_IPV4_UNICAST
	addr := ip.To4()
	if addr == nil {
		family = bgp.FAMILY_IPV6_UNICAST
		addr = ip.To16()
	}

	return bgp.NLRI{
		Family: family,
		Action: action,
		Prefix: addr,
		Length: uint8(mask),
	}, nil
}

// parseAttributes scans a flat keyword/value token stream for
// next-hop, med, local-pref, origin, community and as-path, in any
// order and any subset - unrecognised keywords are ignored so that
// route/vpn/flow share the same attribute tail grammar.
func parseAttributes(args []string) (bgp.Attributes, error) {
	attrs := bgp.Attributes{
		bgp.ORIGIN: {Type: bgp.ORIGIN, Flags: bgp.WTCR, Origin: bgp.IGP},
	}

	for i := 0; i < len(args); {
		switch args[i] {
		case "next-hop":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("next-hop requires a value")
			}
			ip := net.ParseIP(args[i+1])
			if ip == nil {
				return nil, fmt.Errorf("invalid next-hop %q", args[i+1])
			}
			nh := ip.To4()
			if nh == nil {
				nh = ip.To16()
			}
			attrs[bgp.NEXT_HOP] = bgp.Attribute{Type: bgp.NEXT_HOP, Flags: bgp.WTCR, NextHop: nh}
			i += 2

		case "med":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("med requires a value")
			}
			v, err := strconv.ParseUint(args[i+1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("med: %w", err)
			}
			attrs[bgp.MULTI_EXIT_DISC] = bgp.Attribute{Type: bgp.MULTI_EXIT_DISC, Flags: bgp.ONCR, MED: uint32(v)}
			i += 2

		case "local-pref":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("local-pref requires a value")
			}
			v, err := strconv.ParseUint(args[i+1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("local-pref: %w", err)
			}
			attrs[bgp.LOCAL_PREF] = bgp.Attribute{Type: bgp.LOCAL_PREF, Flags: bgp.WTCR, LocalPref: uint32(v)}
			i += 2

		case "origin":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("origin requires a value")
			}
			var o uint8
			switch args[i+1] {
			case "igp":
				o = bgp.IGP
			case "egp":
				o = bgp.EGP
			case "incomplete":
				o = bgp.INCOMPLETE
			default:
				return nil, fmt.Errorf("unrecognised origin %q", args[i+1])
			}
			attrs[bgp.ORIGIN] = bgp.Attribute{Type: bgp.ORIGIN, Flags: bgp.WTCR, Origin: o}
			i += 2

		case "community":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("community requires a value")
			}
			c, err := parseCommunity(args[i+1])
			if err != nil {
				return nil, err
			}
			a := attrs[bgp.COMMUNITIES]
			a.Type, a.Flags = bgp.COMMUNITIES, bgp.OTCR
			a.Communities = append(a.Communities, c)
			attrs[bgp.COMMUNITIES] = a
			i += 2

		case "as-path":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("as-path requires a value")
			}
			seg, err := parseASPath(args[i+1])
			if err != nil {
				return nil, err
			}
			attrs[bgp.AS_PATH] = bgp.Attribute{Type: bgp.AS_PATH, Flags: bgp.WTCR, ASPath: seg}
			i += 2

		default:
			i++
		}
	}

	return attrs, nil
}

// parseCommunity accepts both "N:N" well-known-style community text
// and a bare 32-bit integer.
func parseCommunity(s string) (uint32, error) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		hi, err := strconv.ParseUint(s[:i], 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid community %q", s)
		}
		lo, err := strconv.ParseUint(s[i+1:], 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid community %q", s)
		}
		return uint32(hi)<<16 | uint32(lo), nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid community %q", s)
	}
	return uint32(v), nil
}

// parseFlow builds a Change for "announce flow route { match {
// destination <prefix>; source <prefix>; protocol <name>; port <n>;
// destination-port <n>; source-port <n>; } then { discard; } }",
// exabgp's flowspec grammar reduced to single-valued (equals-only)
// match terms - ranges and boolean and/or combinators are not
// supported since no caller of this control plane has needed them.
func parseFlow(args []string, action bgp.Action) (*bgp.Change, error) {
	i := 0
	for i < len(args) && (args[i] == "{" || args[i] == "}" || args[i] == ";" || args[i] == "route") {
		i++
	}
	if i >= len(args) || args[i] != "match" {
		return nil, fmt.Errorf("flow requires a match block")
	}
	i++

	var components []bgp.FlowComponent
	var thenArgs []string

	for i < len(args) {
		switch args[i] {
		case "{", "}", ";":
			i++
		case "then":
			thenArgs = args[i+1:]
			i = len(args)
		case "destination", "source":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a prefix", args[i])
			}
			ctype := bgp.FlowDestinationPrefix
			if args[i] == "source" {
				ctype = bgp.FlowSourcePrefix
			}
			c, err := encodeFlowPrefix(ctype, args[i+1])
			if err != nil {
				return nil, err
			}
			components = append(components, c)
			i += 2
		case "protocol":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("protocol requires a value")
			}
			v, err := protocolNumber(args[i+1])
			if err != nil {
				return nil, err
			}
			components = append(components, encodeFlowNumeric(bgp.FlowIPProtocol, v))
			i += 2
		case "port":
			c, err := parseFlowNumericArg(args, i, bgp.FlowPort)
			if err != nil {
				return nil, err
			}
			components = append(components, c)
			i += 2
		case "destination-port":
			c, err := parseFlowNumericArg(args, i, bgp.FlowDestinationPort)
			if err != nil {
				return nil, err
			}
			components = append(components, c)
			i += 2
		case "source-port":
			c, err := parseFlowNumericArg(args, i, bgp.FlowSourcePort)
			if err != nil {
				return nil, err
			}
			components = append(components, c)
			i += 2
		case "icmp-type":
			c, err := parseFlowNumericArg(args, i, bgp.FlowICMPType)
			if err != nil {
				return nil, err
			}
			components = append(components, c)
			i += 2
		case "icmp-code":
			c, err := parseFlowNumericArg(args, i, bgp.FlowICMPCode)
			if err != nil {
				return nil, err
			}
			components = append(components, c)
			i += 2
		case "packet-length":
			c, err := parseFlowNumericArg(args, i, bgp.FlowPacketLength)
			if err != nil {
				return nil, err
			}
			components = append(components, c)
			i += 2
		case "dscp":
			c, err := parseFlowNumericArg(args, i, bgp.FlowDSCP)
			if err != nil {
				return nil, err
			}
			components = append(components, c)
			i += 2
		default:
			i++
		}
	}

	if len(components) == 0 {
		return nil, fmt.Errorf("flow match block is empty")
	}

	nlri := bgp.NLRI{Family: bgp.FAMILY_IPV4_FLOWSPEC, Action: action, Flow: components}

	attrs, err := parseFlowThen(thenArgs)
	if err != nil {
		return nil, err
	}

	return &bgp.Change{NLRI: nlri, Attributes: attrs}, nil
}

func parseFlowNumericArg(args []string, i int, ctype uint8) (bgp.FlowComponent, error) {
	if i+1 >= len(args) {
		return bgp.FlowComponent{}, fmt.Errorf("%s requires a value", args[i])
	}
	v, err := strconv.ParseUint(args[i+1], 10, 32)
	if err != nil {
		return bgp.FlowComponent{}, fmt.Errorf("%s: %w", args[i], err)
	}
	return encodeFlowNumeric(ctype, uint32(v)), nil
}

// encodeFlowPrefix packs a destination/source flow component: a mask
// octet followed by the prefix's significant bytes, per RFC 5575 §4.2.
func encodeFlowPrefix(ctype uint8, s string) (bgp.FlowComponent, error) {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return bgp.FlowComponent{}, fmt.Errorf("invalid flow prefix %q: %w", s, err)
	}
	mask, _ := ipnet.Mask.Size()

	addr := ip.To4()
	if addr == nil {
		addr = ip.To16()
	}

	need := (mask + 7) / 8
	value := make([]byte, 1+need)
	value[0] = byte(mask)
	copy(value[1:], addr[:need])

	return bgp.FlowComponent{Type: ctype, Value: value}, nil
}

// encodeFlowNumeric packs a single equals-valued numeric-operator
// component: one <op, value> pair with the end-of-list bit set, per
// RFC 5575 §4.2.2. The value width is the smallest of 1/2/4 bytes that
// holds v.
func encodeFlowNumeric(ctype uint8, v uint32) bgp.FlowComponent {
	const (
		flowOpEnd   = 0x80
		flowOpEqual = 0x01
	)

	var lenBits uint8
	var value []byte
	switch {
	case v <= 0xFF:
		lenBits, value = 0, []byte{byte(v)}
	case v <= 0xFFFF:
		lenBits, value = 1, []byte{byte(v >> 8), byte(v)}
	default:
		lenBits, value = 2, []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}

	op := byte(flowOpEnd | flowOpEqual | lenBits<<4)
	out := append([]byte{op}, value...)

	return bgp.FlowComponent{Type: ctype, Value: out}
}

func protocolNumber(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "icmp":
		return 1, nil
	case "tcp":
		return 6, nil
	case "udp":
		return 17, nil
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("unrecognised protocol %q", s)
	}
	return uint32(v), nil
}

// parseFlowThen translates the "then { discard; }" action clause into
// a traffic-rate extended community of zero, the RFC 5575 §7.1
// encoding for discarding matched traffic. Any other (or absent) then
// clause is treated as accept, carrying no traffic-action community.
func parseFlowThen(args []string) (bgp.Attributes, error) {
	attrs := bgp.Attributes{
		bgp.ORIGIN: {Type: bgp.ORIGIN, Flags: bgp.WTCR, Origin: bgp.IGP},
	}

	for _, tok := range args {
		if tok == "discard" {
			var ec bgp.ExtendedCommunity
			ec[0], ec[1] = 0x80, 0x06 // traffic-rate, 2-byte ASN form
			attrs[bgp.EXTENDED_COMMUNITY] = bgp.Attribute{
				Type:           bgp.EXTENDED_COMMUNITY,
				Flags:          bgp.OTCR,
				ExtCommunities: []bgp.ExtendedCommunity{ec},
			}
		}
	}

	return attrs, nil
}

func parseASPath(s string) ([]bgp.ASPathSegment, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, nil
	}
	seg := bgp.ASPathSegment{Type: bgp.AS_SEQUENCE}
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid as-path element %q", f)
		}
		seg.ASNs = append(seg.ASNs, bgp.ASN(v))
	}
	return []bgp.ASPathSegment{seg}, nil
}
