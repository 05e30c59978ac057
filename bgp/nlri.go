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
	"encoding/hex"
	"fmt"
)

// Action distinguishes an NLRI that asserts reachability from one
// that withdraws it.
type Action int

const (
	ANNOUNCE Action = iota
	WITHDRAW
)

func (a Action) String() string {
	if a == WITHDRAW {
		return "withdraw"
	}
	return "announce"
}

// addrBytes returns how many bytes a packed address needs for an AFI.
func addrBytes(afi AFI) int {
	if afi == AFI_IPV6 {
		return 16
	}
	return 4
}

// NLRI is a tagged variant over AFI/SAFI carrying a CIDR, an optional
// MPLS label stack, an optional route distinguisher, an optional
// RFC 7911 path identifier and an ANNOUNCE/WITHDRAW action.
type NLRI struct {
	Family Family
	Action Action

	Prefix []byte // packed prefix bytes, padded to addrBytes(Family.AFI)
	Length uint8  // mask length

	Labels []Label // set for Family.Labeled() families; a WITHDRAW may leave it empty

	RD    RD
	HasRD bool

	PathID    PathID
	HasPathID bool

	Flow []FlowComponent // non-empty iff Family.FlowSpec(); Prefix/Length unused then
}

// NLRIKey is the tuple that identifies a prefix for Adj-RIB-Out
// replacement purposes: the same prefix with two distinct path-ids is
// two independent entries.
type NLRIKey struct {
	Family    Family
	RD        RD
	HasRD     bool
	PathID    PathID
	HasPathID bool
	Prefix    string
	Length    uint8
}

func (n NLRI) Key() NLRIKey {
	return NLRIKey{
		Family:    n.Family,
		RD:        n.RD,
		HasRD:     n.HasRD,
		PathID:    n.PathID,
		HasPathID: n.HasPathID,
		Prefix:    hex.EncodeToString(n.Prefix[:prefixByteLen(n.Length)]),
		Length:    n.Length,
	}
}

func (k NLRIKey) String() string {
	s := fmt.Sprintf("%s/%d", k.Prefix, k.Length)
	if k.HasRD {
		s = k.RD.String() + ":" + s
	}
	if k.HasPathID {
		s = fmt.Sprintf("%s#%d", s, k.PathID)
	}
	return s
}

// keyToNLRI rebuilds an announceable NLRI from an NLRIKey, for
// re-queuing a retained Adj-RIB-Out entry after graceful restart: the
// key carries the family, RD, path-id, mask and the prefix bytes
// (hex-encoded), but no label stack, which the caller restores.
func keyToNLRI(k NLRIKey) NLRI {
	raw, _ := hex.DecodeString(k.Prefix)
	prefix := make([]byte, addrBytes(k.Family.AFI))
	copy(prefix, raw)

	return NLRI{
		Family:    k.Family,
		Action:    ANNOUNCE,
		Prefix:    prefix,
		Length:    k.Length,
		RD:        k.RD,
		HasRD:     k.HasRD,
		PathID:    k.PathID,
		HasPathID: k.HasPathID,
	}
}

// addPathActive reports whether this NLRI should carry a path
// identifier on the wire, for the given Session and transmit
// direction (send == true when we are the one emitting bytes).
func addPathActive(sess Session, f Family, send bool) bool {
	dir := sess.AddPath[f]
	if send {
		return dir&AddPathSend != 0
	}
	return dir&AddPathReceive != 0
}

// EncodeNLRI renders a single NLRI entry as it appears packed inside
// MP_REACH_NLRI/MP_UNREACH_NLRI (or, for plain IPv4 unicast, the
// UPDATE message's own NLRI/Withdrawn-Routes field). It never
// truncates.
//
// Wire layout for a single non-flowspec NLRI entry, in order:
//
//	[path-id (4 bytes), iff add-path active]
//	length (1 octet - total bit count of label-stack + RD + prefix)
//	[label stack (3 bytes per label), iff Family.Labeled()]
//	[route distinguisher (8 bytes), iff Family.RouteDistinguished()]
//	prefix (ceil(remaining-bits/8) bytes)
func EncodeNLRI(n NLRI, sess Session) ([]byte, error) {
	if n.Family.FlowSpec() {
		return encodeFlowNLRI(n)
	}

	var out []byte

	if addPathActive(sess, n.Family, true) {
		id := encodePathID(n.PathID)
		out = append(out, id[:]...)
	}

	var labels []Label
	if n.Family.Labeled() {
		if n.Action == WITHDRAW && len(n.Labels) == 0 {
			labels = []Label{withdrawLabel}
		} else {
			labels = n.Labels
		}
		if len(labels) == 0 {
			return nil, decodeErr(MalformedNLRI, "labeled family with empty label stack")
		}
	}

	bits := int(n.Length) + 8*3*len(labels)
	if n.HasRD {
		bits += 64
	}
	if bits > 255 {
		return nil, decodeErr(MalformedNLRI, "prefix field too long to encode")
	}
	out = append(out, byte(bits))

	if len(labels) > 0 {
		out = append(out, encodeLabelStack(labels)...)
	}

	if n.HasRD {
		out = append(out, n.RD[:]...)
	}

	n_ := prefixByteLen(n.Length)
	prefixBytes := make([]byte, n_)
	copy(prefixBytes, n.Prefix[:n_])
	out = append(out, prefixBytes...)

	return out, nil
}

// DecodeNLRI reads a single NLRI entry for the given family/action
// and returns the value plus the number of bytes consumed.
func DecodeNLRI(family Family, action Action, b []byte, sess Session) (NLRI, int, error) {
	if family.FlowSpec() {
		return decodeFlowNLRI(family, action, b, sess)
	}

	n := NLRI{Family: family, Action: action}
	i := 0

	if addPathActive(sess, family, false) {
		if len(b) < i+4 {
			return n, 0, decodeErr(ShortRead, "path identifier")
		}
		n.PathID = decodePathID(b[i : i+4])
		n.HasPathID = true
		i += 4
	}

	if len(b) < i+1 {
		return n, 0, decodeErr(ShortRead, "nlri length octet")
	}
	bits := int(b[i])
	i++

	remaining := bits

	if family.Labeled() {
		labels, consumed, err := decodeLabelStack(b[i:])
		if err != nil {
			return n, 0, err
		}
		n.Labels = labels
		i += consumed
		remaining -= 8 * consumed
	}

	if family.RouteDistinguished() {
		if len(b) < i+8 {
			return n, 0, decodeErr(ShortRead, "route distinguisher")
		}
		copy(n.RD[:], b[i:i+8])
		n.HasRD = true
		i += 8
		remaining -= 64
	}

	if remaining < 0 {
		return n, 0, decodeErr(MalformedNLRI, "negative prefix length after RD/labels")
	}

	maxBytes := addrBytes(family.AFI)
	byteLen := prefixByteLen(uint8(remaining))
	if byteLen > maxBytes {
		return n, 0, decodeErr(MalformedNLRI, "prefix mask exceeds address width")
	}
	if len(b) < i+byteLen {
		return n, 0, decodeErr(ShortRead, "truncated prefix bytes")
	}

	out := make([]byte, maxBytes)
	copy(out, b[i:i+byteLen])
	n.Prefix = out
	n.Length = uint8(remaining)
	i += byteLen

	return n, i, nil
}

// DecodeNLRIList decodes a sequence of packed NLRI entries until the
// byte slice is exhausted (used for both the classic IPv4 NLRI field
// and the contents of MP_REACH/MP_UNREACH).
func DecodeNLRIList(family Family, action Action, b []byte, sess Session) ([]NLRI, error) {
	var out []NLRI
	for len(b) > 0 {
		n, consumed, err := DecodeNLRI(family, action, b, sess)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		b = b[consumed:]
	}
	return out, nil
}
