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
	"sort"
)

// Attribute is a single path attribute: a flags byte plus its decoded
// value. The typed fields below hold the semantic payload for known
// type codes; unknown attributes carry their raw bytes in Raw and are re-encoded
// verbatim (with the partial bit forced on) if they were optional
// transitive, or dropped if they were non-transitive.
type Attribute struct {
	Type  uint8
	Flags uint8
	Raw   []byte // used for unknown attributes and as a decode scratch area

	Origin       uint8
	ASPath       []ASPathSegment
	NextHop      []byte // 4 or 16 bytes
	MED          uint32
	LocalPref    uint32
	Aggregator   *Aggregator
	Communities  []uint32
	ExtCommunities []ExtendedCommunity
	LargeCommunities []LargeCommunity
	OriginatorID []byte
	ClusterList  []uint32
	PMSITunnel   []byte
	MPReach      *MPReach
	MPUnreach    *MPUnreach
	AS4Path      []ASPathSegment
	AS4Aggregator *Aggregator
}

// ASPathSegment is one AS_SEQUENCE or AS_SET run within an AS_PATH.
type ASPathSegment struct {
	Type uint8 // AS_SEQUENCE or AS_SET (or the CONFED variants)
	ASNs []ASN
}

// Aggregator is the AGGREGATOR / AS4_AGGREGATOR attribute value.
type Aggregator struct {
	ASN     ASN
	Speaker []byte // 4-byte IPv4 router-id
}

// ExtendedCommunity is an opaque 8-byte extended community (RFC 4360);
// we keep the type/subtype split only far enough to preserve ordering
// and equality, not to interpret every registered sub-format.
type ExtendedCommunity [8]byte

// LargeCommunity is an RFC 8092 large community: global administrator,
// local data part 1, local data part 2.
type LargeCommunity struct {
	Global uint32
	Local1 uint32
	Local2 uint32
}

// MPReach is the decoded MP_REACH_NLRI attribute body (RFC 4760).
type MPReach struct {
	Family  Family
	NextHop []byte
	NLRI    []NLRI
}

// MPUnreach is the decoded MP_UNREACH_NLRI attribute body.
type MPUnreach struct {
	Family Family
	NLRI   []NLRI
}

// Attributes is the full set of path attributes carried by one
// UPDATE, keyed by type code. Iteration on encode is always ascending
// type code, so two structurally equal Attributes values always
// produce identical wire bytes.
type Attributes map[uint8]Attribute

// hashSession is the fixed session context Equal/Hash encode against:
// FourOctetASN is forced on so two AS_PATHs/AGGREGATORs differing only
// in distinct ASNs above 0xFFFF don't both collapse to AS_TRANS and
// compare equal - dedup/idempotency must never depend on the wire
// width a particular peer happened to negotiate.
var hashSession = Session{FourOctetASN: true}

// Equal reports structural equality: the Adj-RIB-Out uses this (or
// the cheaper Hash below) to decide whether an ANNOUNCE is idempotent.
func (a Attributes) Equal(b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	ae, err1 := EncodeAttributes(a, hashSession)
	be, err2 := EncodeAttributes(b, hashSession)
	if err1 != nil || err2 != nil {
		return false
	}
	if len(ae) != len(be) {
		return false
	}
	for i := range ae {
		if ae[i] != be[i] {
			return false
		}
	}
	return true
}

// Hash returns a content hash suitable as an Adj-RIB-Out dedup key.
// It intentionally reuses the deterministic encoder rather than a
// separate traversal, so Hash and Equal can never disagree.
func (a Attributes) Hash() uint64 {
	b, err := EncodeAttributes(a, hashSession)
	if err != nil {
		return 0
	}
	return fnv1a(b)
}

func fnv1a(b []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}

func sortedAttrKeys(a Attributes) []uint8 {
	keys := make([]uint8, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func attrHeader(flags, atype uint8, length int) []byte {
	if length > 255 {
		flags |= FLAG_EXTLEN
		l := htons(uint16(length))
		return []byte{flags, atype, l[0], l[1]}
	}
	return []byte{flags &^ FLAG_EXTLEN, atype, byte(length)}
}

// EncodeAttributes renders the full path attribute sequence in
// ascending type-code order.
func EncodeAttributes(attrs Attributes, sess Session) ([]byte, error) {
	var out []byte

	for _, t := range sortedAttrKeys(attrs) {
		a := attrs[t]
		body, err := encodeAttributeBody(a, sess)
		if err != nil {
			return nil, err
		}
		out = append(out, attrHeader(a.Flags, t, len(body))...)
		out = append(out, body...)
	}

	return out, nil
}

func encodeAttributeBody(a Attribute, sess Session) ([]byte, error) {
	switch a.Type {
	case ORIGIN:
		return []byte{a.Origin}, nil

	case AS_PATH:
		return encodeASPath(a.ASPath, sess.FourOctetASN), nil

	case NEXT_HOP:
		return append([]byte{}, a.NextHop...), nil

	case MULTI_EXIT_DISC:
		v := htonl(a.MED)
		return v[:], nil

	case LOCAL_PREF:
		v := htonl(a.LocalPref)
		return v[:], nil

	case ATOMIC_AGGREGATE:
		return nil, nil

	case AGGREGATOR:
		return encodeAggregator(a.Aggregator, sess.FourOctetASN), nil

	case COMMUNITIES:
		out := make([]byte, 0, 4*len(a.Communities))
		for _, c := range a.Communities {
			v := htonl(c)
			out = append(out, v[:]...)
		}
		return out, nil

	case EXTENDED_COMMUNITY:
		out := make([]byte, 0, 8*len(a.ExtCommunities))
		for _, c := range a.ExtCommunities {
			out = append(out, c[:]...)
		}
		return out, nil

	case LARGE_COMMUNITY:
		out := make([]byte, 0, 12*len(a.LargeCommunities))
		for _, c := range a.LargeCommunities {
			g, l1, l2 := htonl(c.Global), htonl(c.Local1), htonl(c.Local2)
			out = append(out, g[:]...)
			out = append(out, l1[:]...)
			out = append(out, l2[:]...)
		}
		return out, nil

	case ORIGINATOR_ID:
		return append([]byte{}, a.OriginatorID...), nil

	case CLUSTER_LIST:
		out := make([]byte, 0, 4*len(a.ClusterList))
		for _, c := range a.ClusterList {
			v := htonl(c)
			out = append(out, v[:]...)
		}
		return out, nil

	case PMSI_TUNNEL:
		return append([]byte{}, a.PMSITunnel...), nil

	case MP_REACH_NLRI:
		return encodeMPReach(a.MPReach, sess)

	case MP_UNREACH_NLRI:
		return encodeMPUnreach(a.MPUnreach, sess)

	case AS4_PATH:
		return encodeASPath(a.AS4Path, true), nil

	case AS4_AGGREGATOR:
		return encodeAggregator(a.AS4Aggregator, true), nil

	default:
		return append([]byte{}, a.Raw...), nil
	}
}

func encodeASPath(segs []ASPathSegment, fourByte bool) []byte {
	var out []byte
	for _, seg := range segs {
		out = append(out, seg.Type, byte(len(seg.ASNs)))
		for _, asn := range seg.ASNs {
			if fourByte {
				v := encodeASN4(asn)
				out = append(out, v[:]...)
			} else {
				v := encodeASN2(asn)
				out = append(out, v[:]...)
			}
		}
	}
	return out
}

func encodeAggregator(agg *Aggregator, fourByte bool) []byte {
	if agg == nil {
		return nil
	}
	var out []byte
	if fourByte {
		v := encodeASN4(agg.ASN)
		out = append(out, v[:]...)
	} else {
		v := encodeASN2(agg.ASN)
		out = append(out, v[:]...)
	}
	out = append(out, agg.Speaker...)
	return out
}

// encodeMPReach requires that every NLRI in r.NLRI share r.Family,
// enforcing the one-family-per-attribute rule.
func encodeMPReach(r *MPReach, sess Session) ([]byte, error) {
	if r == nil {
		return nil, decodeErr(MalformedUpdate, "MP_REACH_NLRI attribute missing body")
	}

	afi := htons(uint16(r.Family.AFI))
	out := []byte{afi[0], afi[1], byte(r.Family.SAFI), byte(len(r.NextHop))}
	out = append(out, r.NextHop...)
	out = append(out, 0) // reserved (SNPA count)

	for _, n := range r.NLRI {
		if n.Family != r.Family {
			return nil, decodeErr(MalformedUpdate, "MP_REACH_NLRI family mismatch against carried NLRI")
		}
		e, err := EncodeNLRI(n, sess)
		if err != nil {
			return nil, err
		}
		out = append(out, e...)
	}

	return out, nil
}

func encodeMPUnreach(u *MPUnreach, sess Session) ([]byte, error) {
	if u == nil {
		return nil, decodeErr(MalformedUpdate, "MP_UNREACH_NLRI attribute missing body")
	}

	afi := htons(uint16(u.Family.AFI))
	out := []byte{afi[0], afi[1], byte(u.Family.SAFI)}

	for _, n := range u.NLRI {
		if n.Family != u.Family {
			return nil, decodeErr(MalformedUpdate, "MP_UNREACH_NLRI family mismatch against carried NLRI")
		}
		e, err := EncodeNLRI(n, sess)
		if err != nil {
			return nil, err
		}
		out = append(out, e...)
	}

	return out, nil
}

// DecodeAttributes parses the full path-attribute sequence of an
// UPDATE message body and reconciles AS4_PATH/AS4_AGGREGATOR against
// AS_PATH/AGGREGATOR per RFC 6793 §4.2.3 when the session did not
// negotiate 4-byte ASNs (the as-path was therefore carried 2-byte with
// AS_TRANS placeholders and the real values ride along in AS4_PATH).
func DecodeAttributes(b []byte, sess Session) (Attributes, error) {
	attrs := Attributes{}

	i := 0
	for i < len(b) {
		if i+2 > len(b) {
			return nil, decodeErr(ShortRead, "attribute header")
		}

		flags := b[i]
		atype := b[i+1]
		i += 2

		var length int
		if flags&FLAG_EXTLEN != 0 {
			if i+2 > len(b) {
				return nil, decodeErr(ShortRead, "extended attribute length")
			}
			length = int(ntohs(b[i : i+2]))
			i += 2
		} else {
			if i+1 > len(b) {
				return nil, decodeErr(ShortRead, "attribute length")
			}
			length = int(b[i])
			i++
		}

		if i+length > len(b) {
			return nil, decodeErr(ShortRead, "attribute value")
		}
		value := b[i : i+length]
		i += length

		a, err := decodeAttributeBody(atype, flags, value, sess)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue // unknown non-transitive: discard silently
		}

		attrs[atype] = *a
	}

	reconcileAS4(attrs, sess)

	return attrs, nil
}

func decodeAttributeBody(atype, flags uint8, value []byte, sess Session) (*Attribute, error) {
	a := &Attribute{Type: atype, Flags: flags}

	switch atype {
	case ORIGIN:
		if len(value) != 1 {
			return nil, decodeErr(MalformedUpdate, "ORIGIN length")
		}
		a.Origin = value[0]

	case AS_PATH:
		segs, err := decodeASPath(value, sess.FourOctetASN)
		if err != nil {
			return nil, err
		}
		a.ASPath = segs

	case NEXT_HOP:
		if len(value) != 4 {
			return nil, decodeErr(MalformedUpdate, "NEXT_HOP length")
		}
		a.NextHop = append([]byte{}, value...)

	case MULTI_EXIT_DISC:
		if len(value) != 4 {
			return nil, decodeErr(MalformedUpdate, "MULTI_EXIT_DISC length")
		}
		a.MED = ntohl(value)

	case LOCAL_PREF:
		if len(value) != 4 {
			return nil, decodeErr(MalformedUpdate, "LOCAL_PREF length")
		}
		a.LocalPref = ntohl(value)

	case ATOMIC_AGGREGATE:
		if len(value) != 0 {
			return nil, decodeErr(MalformedUpdate, "ATOMIC_AGGREGATE length")
		}

	case AGGREGATOR:
		agg, err := decodeAggregator(value, sess.FourOctetASN)
		if err != nil {
			return nil, err
		}
		a.Aggregator = agg

	case COMMUNITIES:
		if len(value)%4 != 0 {
			return nil, decodeErr(MalformedUpdate, "COMMUNITIES length")
		}
		for j := 0; j < len(value); j += 4 {
			a.Communities = append(a.Communities, ntohl(value[j:j+4]))
		}

	case EXTENDED_COMMUNITY:
		if len(value)%8 != 0 {
			return nil, decodeErr(MalformedUpdate, "EXTENDED_COMMUNITY length")
		}
		for j := 0; j < len(value); j += 8 {
			var c ExtendedCommunity
			copy(c[:], value[j:j+8])
			a.ExtCommunities = append(a.ExtCommunities, c)
		}

	case LARGE_COMMUNITY:
		if len(value)%12 != 0 {
			return nil, decodeErr(MalformedUpdate, "LARGE_COMMUNITY length")
		}
		for j := 0; j < len(value); j += 12 {
			a.LargeCommunities = append(a.LargeCommunities, LargeCommunity{
				Global: ntohl(value[j : j+4]),
				Local1: ntohl(value[j+4 : j+8]),
				Local2: ntohl(value[j+8 : j+12]),
			})
		}

	case ORIGINATOR_ID:
		if len(value) != 4 {
			return nil, decodeErr(MalformedUpdate, "ORIGINATOR_ID length")
		}
		a.OriginatorID = append([]byte{}, value...)

	case CLUSTER_LIST:
		if len(value)%4 != 0 {
			return nil, decodeErr(MalformedUpdate, "CLUSTER_LIST length")
		}
		for j := 0; j < len(value); j += 4 {
			a.ClusterList = append(a.ClusterList, ntohl(value[j:j+4]))
		}

	case PMSI_TUNNEL:
		a.PMSITunnel = append([]byte{}, value...)

	case MP_REACH_NLRI:
		r, err := decodeMPReach(value, sess)
		if err != nil {
			return nil, err
		}
		a.MPReach = r

	case MP_UNREACH_NLRI:
		u, err := decodeMPUnreach(value, sess)
		if err != nil {
			return nil, err
		}
		a.MPUnreach = u

	case AS4_PATH:
		segs, err := decodeASPath(value, true)
		if err != nil {
			return nil, err
		}
		a.AS4Path = segs

	case AS4_AGGREGATOR:
		agg, err := decodeAggregator(value, true)
		if err != nil {
			return nil, err
		}
		a.AS4Aggregator = agg

	default:
		if flags&FLAG_TRANSITIVE == 0 {
			// unknown, non-transitive: silently discarded per §4.2
			return nil, nil
		}
		// unknown optional-transitive: retained verbatim, partial bit forced
		a.Flags = flags | FLAG_PARTIAL
		a.Raw = append([]byte{}, value...)
	}

	return a, nil
}

func decodeASPath(value []byte, fourByte bool) ([]ASPathSegment, error) {
	var segs []ASPathSegment
	i := 0
	asnLen := 2
	if fourByte {
		asnLen = 4
	}

	for i < len(value) {
		if i+2 > len(value) {
			return nil, decodeErr(MalformedASPath, "segment header")
		}
		stype := value[i]
		count := int(value[i+1])
		i += 2

		if i+asnLen*count > len(value) {
			return nil, decodeErr(MalformedASPath, "segment body")
		}

		seg := ASPathSegment{Type: stype}
		for n := 0; n < count; n++ {
			if fourByte {
				seg.ASNs = append(seg.ASNs, decodeASN4(value[i:i+4]))
				i += 4
			} else {
				seg.ASNs = append(seg.ASNs, decodeASN2(value[i:i+2]))
				i += 2
			}
		}
		segs = append(segs, seg)
	}

	return segs, nil
}

func decodeAggregator(value []byte, fourByte bool) (*Aggregator, error) {
	want := 6
	if fourByte {
		want = 8
	}
	if len(value) != want {
		return nil, decodeErr(MalformedUpdate, "AGGREGATOR length")
	}

	var asn ASN
	var speaker []byte
	if fourByte {
		asn = decodeASN4(value[0:4])
		speaker = value[4:8]
	} else {
		asn = decodeASN2(value[0:2])
		speaker = value[2:6]
	}

	return &Aggregator{ASN: asn, Speaker: append([]byte{}, speaker...)}, nil
}

func decodeMPReach(value []byte, sess Session) (*MPReach, error) {
	if len(value) < 4 {
		return nil, decodeErr(ShortRead, "MP_REACH_NLRI fixed part")
	}

	family := Family{AFI: AFI(ntohs(value[0:2])), SAFI: SAFI(value[2])}
	nhLen := int(value[3])

	if len(value) < 4+nhLen+1 {
		return nil, decodeErr(ShortRead, "MP_REACH_NLRI next hop")
	}
	nextHop := append([]byte{}, value[4:4+nhLen]...)

	// one reserved byte (SNPA count, always 0 in modern usage) follows
	i := 4 + nhLen + 1

	nlri, err := DecodeNLRIList(family, ANNOUNCE, value[i:], sess)
	if err != nil {
		return nil, err
	}

	return &MPReach{Family: family, NextHop: nextHop, NLRI: nlri}, nil
}

func decodeMPUnreach(value []byte, sess Session) (*MPUnreach, error) {
	if len(value) < 3 {
		return nil, decodeErr(ShortRead, "MP_UNREACH_NLRI fixed part")
	}

	family := Family{AFI: AFI(ntohs(value[0:2])), SAFI: SAFI(value[2])}

	nlri, err := DecodeNLRIList(family, WITHDRAW, value[3:], sess)
	if err != nil {
		return nil, err
	}

	return &MPUnreach{Family: family, NLRI: nlri}, nil
}

// reconcileAS4 folds AS4_PATH/AS4_AGGREGATOR into AS_PATH/AGGREGATOR
// when the session ran 2-byte ASNs on the wire, per RFC 6793 §4.2.3:
// when AS4_PATH has fewer segments than AS_PATH, the AS4 segments
// replace the trailing AS_TRANS-padded portion of AS_PATH; when its
// segment count equals or exceeds AS_PATH's, AS4_PATH is used
// verbatim.
func reconcileAS4(attrs Attributes, sess Session) {
	if sess.FourOctetASN {
		return
	}

	as4, hasAS4 := attrs[AS4_PATH]
	if hasAS4 {
		if asPath, ok := attrs[AS_PATH]; ok {
			asPath.ASPath = mergeAS4Path(asPath.ASPath, as4.AS4Path)
			attrs[AS_PATH] = asPath
		}
		delete(attrs, AS4_PATH)
	}

	if as4agg, ok := attrs[AS4_AGGREGATOR]; ok {
		if agg, ok := attrs[AGGREGATOR]; ok && as4agg.AS4Aggregator != nil {
			agg.Aggregator = as4agg.AS4Aggregator
			attrs[AGGREGATOR] = agg
		}
		delete(attrs, AS4_AGGREGATOR)
	}
}

// mergeAS4Path replaces the trailing segments of a 2-byte AS_PATH
// with the (longer-ASN) AS4_PATH segments, keeping any leading
// segments AS4_PATH omitted (it is always a suffix per RFC 6793).
func mergeAS4Path(asPath, as4Path []ASPathSegment) []ASPathSegment {
	if len(as4Path) == 0 {
		return asPath
	}
	if len(as4Path) >= len(asPath) {
		return as4Path
	}
	prefix := asPath[:len(asPath)-len(as4Path)]
	out := make([]ASPathSegment, 0, len(asPath))
	out = append(out, prefix...)
	out = append(out, as4Path...)
	return out
}
