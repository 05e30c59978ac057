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
	"bytes"
	"sort"
)

// FlowComponent is a single <type, value> component of an RFC 5575
// flow specification rule. Value is the already-encoded operator/
// value bytes for that component type (destination/source prefix
// components carry a packed prefix; the numeric-operator components
// carry one or more <op, value> pairs).
type FlowComponent struct {
	Type  uint8
	Value []byte
}

// RFC 5575 §4 component types.
const (
	FlowDestinationPrefix uint8 = 1
	FlowSourcePrefix      uint8 = 2
	FlowIPProtocol        uint8 = 3
	FlowPort              uint8 = 4
	FlowDestinationPort   uint8 = 5
	FlowSourcePort        uint8 = 6
	FlowICMPType          uint8 = 7
	FlowICMPCode          uint8 = 8
	FlowTCPFlags          uint8 = 9
	FlowPacketLength      uint8 = 10
	FlowDSCP              uint8 = 11
	FlowFragment          uint8 = 12
)

// canonicalizeFlow sorts flow components in ascending component-type
// order, breaking ties by lexicographic comparison of the encoded
// value, per RFC 5575 §4's canonical-form requirement - this canonical
// form is also what any downstream route-selection would compare on.
func canonicalizeFlow(components []FlowComponent) []FlowComponent {
	out := make([]FlowComponent, len(components))
	copy(out, components)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return bytes.Compare(out[i].Value, out[j].Value) < 0
	})

	return out
}

// encodeFlowNLRI renders a flowspec NLRI: an optional RD (for
// flowspec-vpn), then a length prefix (1 byte for a rule under 240
// bytes, 2 bytes for 240 bytes or more, per RFC 5575 §4), then
// the canonicalized <type, value> components back to back.
func encodeFlowNLRI(n NLRI) ([]byte, error) {
	components := canonicalizeFlow(n.Flow)

	var body []byte
	for _, c := range components {
		body = append(body, c.Type)
		body = append(body, c.Value...)
	}

	var out []byte
	if n.HasRD {
		out = append(out, n.RD[:]...)
	}

	if len(body) < 240 {
		out = append(out, byte(len(body)))
	} else {
		if len(body) > 0xFFF {
			return nil, decodeErr(MalformedNLRI, "flowspec rule too long to encode")
		}
		l := uint16(len(body)) | 0xF000
		h := htons(l)
		out = append(out, h[0], h[1])
	}

	out = append(out, body...)
	return out, nil
}

// decodeFlowNLRI parses a single flowspec NLRI entry.
func decodeFlowNLRI(family Family, action Action, b []byte, sess Session) (NLRI, int, error) {
	n := NLRI{Family: family, Action: action}
	i := 0

	if family.RouteDistinguished() {
		if len(b) < i+8 {
			return n, 0, decodeErr(ShortRead, "flowspec-vpn route distinguisher")
		}
		copy(n.RD[:], b[i:i+8])
		n.HasRD = true
		i += 8
	}

	if len(b) < i+1 {
		return n, 0, decodeErr(ShortRead, "flowspec length octet")
	}

	var length int
	if b[i]&0xF0 == 0xF0 {
		if len(b) < i+2 {
			return n, 0, decodeErr(ShortRead, "flowspec extended length")
		}
		length = int(ntohs(b[i:i+2]) & 0x0FFF)
		i += 2
	} else {
		length = int(b[i])
		i++
	}

	if len(b) < i+length {
		return n, 0, decodeErr(ShortRead, "truncated flowspec rule")
	}

	body := b[i : i+length]
	i += length

	var components []FlowComponent
	j := 0
	for j < len(body) {
		ctype := body[j]
		j++

		start := j
		// numeric-operator components are a sequence of <op, value>
		// pairs terminated by an entry whose end-of-list bit (0x80)
		// is set; prefix components (1,2) are a single packed prefix.
		if ctype == FlowDestinationPrefix || ctype == FlowSourcePrefix {
			if j >= len(body) {
				return n, 0, decodeErr(MalformedNLRI, "flowspec prefix component truncated")
			}
			mask := body[j]
			need := prefixByteLen(mask)
			if j+1+need > len(body) {
				return n, 0, decodeErr(MalformedNLRI, "flowspec prefix component overruns rule")
			}
			j += 1 + need
		} else {
			for {
				if j >= len(body) {
					return n, 0, decodeErr(MalformedNLRI, "flowspec operator component truncated")
				}
				op := body[j]
				valLen := 1 << ((op >> 4) & 0x3)
				j++
				if j+valLen > len(body) {
					return n, 0, decodeErr(MalformedNLRI, "flowspec operator value overruns rule")
				}
				j += valLen
				if op&0x80 != 0 { // end-of-list bit
					break
				}
			}
		}

		value := make([]byte, j-start)
		copy(value, body[start:j])
		components = append(components, FlowComponent{Type: ctype, Value: value})
	}

	n.Flow = canonicalizeFlow(components)
	return n, i, nil
}
