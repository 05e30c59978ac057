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

// AddPathDirection is a per-family bitmask of which directions
// ADD-PATH (RFC 7911) is active for: the sender may SEND extra paths,
// may RECEIVE them, or both.
type AddPathDirection uint8

const (
	AddPathNone    AddPathDirection = 0
	AddPathReceive AddPathDirection = 1 // we may receive multiple paths
	AddPathSend    AddPathDirection = 2 // we may send multiple paths
	AddPathBoth    AddPathDirection = AddPathReceive | AddPathSend
)

// Capabilities is the set of capabilities one side advertised in its
// OPEN message optional parameters.
type Capabilities struct {
	MultiProtocol  []Family
	RouteRefresh   bool
	EnhancedRefresh bool
	FourOctetASN   bool
	ExtendedMessage bool
	// AddPath maps a family to the direction THIS side offered: e.g.
	// AddPathSend means "I can send you multiple paths for this
	// family", matching the RFC 7911 capability's send/receive octet
	// from the advertiser's point of view.
	AddPath map[Family]AddPathDirection
	// GracefulRestart is the set of families advertised as
	// restart-capable.
	GracefulRestart []Family
	GracefulRestartTime uint16

	// fourOctetASNValue carries the raw 4-byte ASN to put in the
	// CAP_FOUR_OCTET_ASN capability value; set via WithLocalASN.
	fourOctetASNValue []byte
}

// WithLocalASN attaches the local 4-byte ASN to be carried in the
// four-octet-ASN capability value when FourOctetASN is set.
func (c Capabilities) WithLocalASN(asn ASN) Capabilities {
	v := encodeASN4(asn)
	c.fourOctetASNValue = v[:]
	return c
}

func NewCapabilities() Capabilities {
	return Capabilities{AddPath: map[Family]AddPathDirection{}}
}

func familySet(fs []Family) map[Family]bool {
	m := map[Family]bool{}
	for _, f := range fs {
		m[f] = true
	}
	return m
}

func intersectFamilies(a, b []Family) []Family {
	bs := familySet(b)
	var out []Family
	for _, f := range a {
		if bs[f] {
			out = append(out, f)
		}
	}
	return out
}

// Session is the set of parameters negotiated for a single peer
// session, derived from the local and remote Capabilities.
type Session struct {
	Families     []Family
	FourOctetASN bool
	RouteRefresh bool
	EnhancedRefresh bool
	ExtendedMessage bool
	// AddPath maps a negotiated family to the EFFECTIVE direction
	// from the local speaker's point of view: AddPathSend means the
	// local speaker may send multiple paths to the remote peer
	// (remote offered to receive, i.e. RFC 7911 receive bit set on
	// the remote's capability); AddPathReceive means the remote may
	// send us multiple paths.
	AddPath map[Family]AddPathDirection
	GracefulRestart []Family
}

// Negotiate computes the session parameters from the local and
// remote advertised capabilities: the negotiated family set is the
// intersection of both directions' multiprotocol capabilities (§4.4);
// add-path direction is the bitwise intersection that makes sense
// from each side (remote's "send" bit paired with local's "receive"
// bit, and vice versa); route-refresh and 4-byte-ASN both require
// both sides to have advertised them.
func Negotiate(local, remote Capabilities) Session {
	s := Session{AddPath: map[Family]AddPathDirection{}}

	s.Families = intersectFamilies(local.MultiProtocol, remote.MultiProtocol)
	s.FourOctetASN = local.FourOctetASN && remote.FourOctetASN
	s.RouteRefresh = local.RouteRefresh && remote.RouteRefresh
	s.EnhancedRefresh = local.EnhancedRefresh && remote.EnhancedRefresh && s.RouteRefresh
	s.ExtendedMessage = local.ExtendedMessage && remote.ExtendedMessage
	s.GracefulRestart = intersectFamilies(local.GracefulRestart, remote.GracefulRestart)

	for _, f := range s.Families {
		localDir := local.AddPath[f]
		remoteDir := remote.AddPath[f]

		var dir AddPathDirection
		// we may SEND to the remote iff the remote offered to RECEIVE
		if remoteDir&AddPathReceive != 0 && localDir&AddPathSend != 0 {
			dir |= AddPathSend
		}
		// we may RECEIVE from the remote iff the remote offered to SEND
		if remoteDir&AddPathSend != 0 && localDir&AddPathReceive != 0 {
			dir |= AddPathReceive
		}

		if dir != AddPathNone {
			s.AddPath[f] = dir
		}
	}

	return s
}

// MaxMessageSize is the largest UPDATE this session may emit - 4096
// octets normally, or 65535 if the extended message capability was
// negotiated.
func (s Session) MaxMessageSize() int {
	if s.ExtendedMessage {
		return 65535
	}
	return 4096
}

func encodeCapability(code uint8, value []byte) []byte {
	return append([]byte{code, byte(len(value))}, value...)
}

// EncodeCapabilities renders this Capabilities value as back-to-back
// capability TLVs (code, length, value); Open.Body wraps them in one
// OPEN optional parameter of type 2 ("Capabilities").
func EncodeCapabilities(c Capabilities) []byte {
	var caps []byte

	for _, f := range c.MultiProtocol {
		afi := htons(uint16(f.AFI))
		value := []byte{afi[0], afi[1], 0, byte(f.SAFI)}
		caps = append(caps, encodeCapability(CAP_MULTIPROTOCOL, value)...)
	}

	if c.RouteRefresh {
		caps = append(caps, encodeCapability(CAP_ROUTE_REFRESH, nil)...)
	}

	if c.EnhancedRefresh {
		caps = append(caps, encodeCapability(CAP_ENHANCED_REFRESH, nil)...)
	}

	if c.ExtendedMessage {
		caps = append(caps, encodeCapability(CAP_EXTENDED_MESSAGE, nil)...)
	}

	if c.FourOctetASN {
		v := c.fourOctetASNValue
		if len(v) != 4 {
			v = make([]byte, 4)
		}
		caps = append(caps, encodeCapability(CAP_FOUR_OCTET_ASN, v)...)
	}

	for f, dir := range c.AddPath {
		afi := htons(uint16(f.AFI))
		value := []byte{afi[0], afi[1], byte(f.SAFI), byte(dir)}
		caps = append(caps, encodeCapability(CAP_ADD_PATH, value)...)
	}

	if len(c.GracefulRestart) > 0 {
		t := htons(c.GracefulRestartTime)
		value := []byte{t[0] & 0x0F, t[1]} // restart state bits cleared
		for _, f := range c.GracefulRestart {
			afi := htons(uint16(f.AFI))
			value = append(value, afi[0], afi[1], byte(f.SAFI), 0x80) // forwarding state preserved
		}
		caps = append(caps, encodeCapability(CAP_GRACEFUL_RESTART, value)...)
	}

	return caps
}

// DecodeCapabilities parses the optional parameters of an OPEN
// message body (the bytes strictly after the fixed 10-byte header)
// and returns the advertised Capabilities plus, if present, the
// 4-byte ASN carried in the capability value (RFC 6793 §7).
func DecodeCapabilities(b []byte) (Capabilities, ASN, error) {
	c := NewCapabilities()
	var asn4 ASN

	i := 0
	for i < len(b) {
		if i+2 > len(b) {
			return c, 0, decodeErr(ShortRead, "optional parameter header")
		}

		ptype := b[i]
		plen := int(b[i+1])
		i += 2

		if i+plen > len(b) {
			return c, 0, decodeErr(ShortRead, "optional parameter value")
		}
		value := b[i : i+plen]
		i += plen

		if ptype != CAPABILITIES_OPTIONAL_PARAMETER {
			continue // other optional parameter types are not in scope
		}

		j := 0
		for j < len(value) {
			if j+2 > len(value) {
				return c, 0, decodeErr(ShortRead, "capability header")
			}
			code := value[j]
			clen := int(value[j+1])
			j += 2

			if j+clen > len(value) {
				return c, 0, decodeErr(ShortRead, "capability value")
			}
			cv := value[j : j+clen]
			j += clen

			switch code {
			case CAP_MULTIPROTOCOL:
				if clen != 4 {
					return c, 0, decodeErr(MalformedNLRI, "multiprotocol capability length")
				}
				f := Family{AFI: AFI(ntohs(cv[0:2])), SAFI: SAFI(cv[3])}
				c.MultiProtocol = append(c.MultiProtocol, f)

			case CAP_ROUTE_REFRESH:
				c.RouteRefresh = true

			case CAP_ENHANCED_REFRESH:
				c.EnhancedRefresh = true

			case CAP_EXTENDED_MESSAGE:
				c.ExtendedMessage = true

			case CAP_FOUR_OCTET_ASN:
				if clen != 4 {
					return c, 0, decodeErr(MalformedNLRI, "four-octet ASN capability length")
				}
				c.FourOctetASN = true
				asn4 = decodeASN4(cv)

			case CAP_ADD_PATH:
				if clen != 4 {
					return c, 0, decodeErr(MalformedNLRI, "add-path capability length")
				}
				f := Family{AFI: AFI(ntohs(cv[0:2])), SAFI: SAFI(cv[2])}
				c.AddPath[f] = AddPathDirection(cv[3])

			case CAP_GRACEFUL_RESTART:
				if clen < 2 {
					return c, 0, decodeErr(MalformedNLRI, "graceful restart capability length")
				}
				c.GracefulRestartTime = ntohs(cv[0:2]) & 0x0FFF
				for k := 2; k+4 <= len(cv); k += 4 {
					f := Family{AFI: AFI(ntohs(cv[k : k+2])), SAFI: SAFI(cv[k+2])}
					c.GracefulRestart = append(c.GracefulRestart, f)
				}

			default:
				// unrecognised capability codes are not fatal on
				// their own; the OPEN is rejected only if the peer
				// requires one we don't understand, which this
				// passive decoder cannot determine.
			}
		}
	}

	return c, asn4, nil
}
