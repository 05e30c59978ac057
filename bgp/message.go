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

// message is the common interface every decoded BGP message
// implements - the type byte for the header plus its encoded body.
type message interface {
	Type() uint8
	Body() []byte
}

const headerLen = 19

// headerise wraps a message body with the 16-byte all-ones marker,
// 2-byte total length and 1-byte type, per RFC 4271 §4.1.
func headerise(mtype uint8, body []byte) []byte {
	l := headerLen + len(body)
	p := make([]byte, l)
	for n := 0; n < 16; n++ {
		p[n] = 0xff
	}
	hl := htons(uint16(l))
	p[16] = hl[0]
	p[17] = hl[1]
	p[18] = mtype
	copy(p[19:], body)
	return p
}

// Open is a decoded OPEN message.
type Open struct {
	Version  uint8
	ASN      ASN // 2-byte field; the real ASN may ride in a capability
	HoldTime uint16
	ID       [4]byte
	Caps     Capabilities
}

func (o *Open) Type() uint8 { return M_OPEN }

func (o *Open) Body() []byte {
	as2 := encodeASN2(o.ASN)
	ht := htons(o.HoldTime)

	body := []byte{o.Version, as2[0], as2[1], ht[0], ht[1], o.ID[0], o.ID[1], o.ID[2], o.ID[3]}

	caps := EncodeCapabilities(o.Caps)
	if len(caps) == 0 {
		return append(body, 0)
	}

	param := append([]byte{CAPABILITIES_OPTIONAL_PARAMETER, byte(len(caps))}, caps...)
	body = append(body, byte(len(param)))
	body = append(body, param...)
	return body
}

// DecodeOpen parses an OPEN message body (the bytes after the 19-byte
// header).
func DecodeOpen(b []byte) (*Open, error) {
	if len(b) < 10 {
		return nil, decodeErr(ShortRead, "OPEN fixed part")
	}

	o := &Open{
		Version:  b[0],
		ASN:      decodeASN2(b[1:3]),
		HoldTime: ntohs(b[3:5]),
	}
	copy(o.ID[:], b[5:9])

	paramLen := int(b[9])
	if len(b) < 10+paramLen {
		return nil, decodeErr(ShortRead, "OPEN optional parameters")
	}

	caps, asn4, err := DecodeCapabilities(b[10 : 10+paramLen])
	if err != nil {
		return nil, err
	}
	o.Caps = caps
	if caps.FourOctetASN && asn4 != 0 {
		o.ASN = asn4
	}

	return o, nil
}

// Update is a decoded UPDATE message: classic IPv4 unicast
// withdrawn-routes/NLRI plus the full Attributes collection (which
// itself may carry MP_REACH/MP_UNREACH for every other family).
type Update struct {
	WithdrawnRoutes []NLRI
	Attributes      Attributes
	NLRI            []NLRI
}

func (u *Update) Type() uint8 { return M_UPDATE }

// Body renders the Update with no session context - correct only for
// plain IPv4 unicast with no add-path/4-byte-ASN in play. Callers that
// negotiated anything beyond that must use EncodeUpdate directly.
func (u *Update) Body() []byte {
	b, err := EncodeUpdate(*u, Session{})
	if err != nil {
		return nil
	}
	return b
}

// EncodeUpdate renders an Update against a negotiated Session; needed
// whenever the message carries add-path identifiers or a 4-byte
// AS_PATH.
func EncodeUpdate(u Update, sess Session) ([]byte, error) {
	var withdrawn []byte
	for _, n := range u.WithdrawnRoutes {
		e, err := EncodeNLRI(n, sess)
		if err != nil {
			return nil, err
		}
		withdrawn = append(withdrawn, e...)
	}

	attrs, err := EncodeAttributes(u.Attributes, sess)
	if err != nil {
		return nil, err
	}

	var nlri []byte
	for _, n := range u.NLRI {
		e, err := EncodeNLRI(n, sess)
		if err != nil {
			return nil, err
		}
		nlri = append(nlri, e...)
	}

	wl := htons(uint16(len(withdrawn)))
	body := append([]byte{}, wl[:]...)
	body = append(body, withdrawn...)

	al := htons(uint16(len(attrs)))
	body = append(body, al[:]...)
	body = append(body, attrs...)
	body = append(body, nlri...)

	return body, nil
}

// DecodeUpdate parses an UPDATE message body against the negotiated
// Session (which supplies add-path/4-byte-ASN context to the nested
// codecs).
func DecodeUpdate(b []byte, sess Session) (*Update, error) {
	if len(b) < 2 {
		return nil, decodeErr(ShortRead, "UPDATE withdrawn routes length")
	}

	wlen := int(ntohs(b[0:2]))
	i := 2
	if len(b) < i+wlen {
		return nil, decodeErr(ShortRead, "UPDATE withdrawn routes")
	}

	withdrawn, err := DecodeNLRIList(FAMILY_IPV4_UNICAST, WITHDRAW, b[i:i+wlen], sess)
	if err != nil {
		return nil, err
	}
	i += wlen

	if len(b) < i+2 {
		return nil, decodeErr(ShortRead, "UPDATE total path attribute length")
	}
	alen := int(ntohs(b[i : i+2]))
	i += 2

	if len(b) < i+alen {
		return nil, decodeErr(ShortRead, "UPDATE path attributes")
	}
	attrs, err := DecodeAttributes(b[i:i+alen], sess)
	if err != nil {
		return nil, err
	}
	i += alen

	nlri, err := DecodeNLRIList(FAMILY_IPV4_UNICAST, ANNOUNCE, b[i:], sess)
	if err != nil {
		return nil, err
	}

	return &Update{WithdrawnRoutes: withdrawn, Attributes: attrs, NLRI: nlri}, nil
}

// Notification is a decoded NOTIFICATION message.
type Notification struct {
	Code uint8
	Sub  uint8
	Data []byte
}

func (n *Notification) Type() uint8 { return M_NOTIFICATION }

func (n *Notification) Body() []byte {
	return append([]byte{n.Code, n.Sub}, n.Data...)
}

func (n *Notification) String() string {
	return note(n.Code, n.Sub)
}

// DecodeNotification parses a NOTIFICATION message body.
func DecodeNotification(b []byte) (*Notification, error) {
	if len(b) < 2 {
		return nil, decodeErr(ShortRead, "NOTIFICATION fixed part")
	}
	return &Notification{Code: b[0], Sub: b[1], Data: append([]byte{}, b[2:]...)}, nil
}

// Keepalive is a decoded KEEPALIVE message; it has no body.
type Keepalive struct{}

func (k *Keepalive) Type() uint8  { return M_KEEPALIVE }
func (k *Keepalive) Body() []byte { return nil }

// RouteRefresh is a decoded ROUTE-REFRESH message (RFC 2918), extended
// with the RFC 7313 begin-of-refresh/end-of-refresh subtype octet
// when enhanced route refresh was negotiated.
type RouteRefresh struct {
	Family  Family
	SubType uint8 // 0 normal, 1 begin-of-route-refresh, 2 end-of-route-refresh (RFC 7313)
}

const (
	RefreshNormal = 0
	RefreshBegin  = 1
	RefreshEnd    = 2
)

func (r *RouteRefresh) Type() uint8 { return M_ROUTE_REFRESH }

func (r *RouteRefresh) Body() []byte {
	afi := htons(uint16(r.Family.AFI))
	return []byte{afi[0], afi[1], r.SubType, byte(r.Family.SAFI)}
}

// DecodeRouteRefresh parses a ROUTE-REFRESH message body.
func DecodeRouteRefresh(b []byte) (*RouteRefresh, error) {
	if len(b) != 4 {
		return nil, decodeErr(ShortRead, "ROUTE-REFRESH body")
	}
	return &RouteRefresh{
		Family:  Family{AFI: AFI(ntohs(b[0:2])), SAFI: SAFI(b[3])},
		SubType: b[2],
	}, nil
}

// Framer is a pure stream decoder: feed it bytes as they arrive and it
// yields zero or more complete raw frames (type and body, header
// stripped), holding
// back any partial trailing frame until more bytes arrive. It never
// interprets message bodies - that is DecodeMessage's job - so it can
// be driven directly by the reader goroutine in connection.go.
type Framer struct {
	buf        []byte
	maxMessage int
}

// NewFramer builds a Framer bounded by maxMessage (4096, or 65535 if
// the extended message capability was negotiated).
func NewFramer(maxMessage int) *Framer {
	if maxMessage <= 0 {
		maxMessage = 4096
	}
	return &Framer{maxMessage: maxMessage}
}

// RawFrame is one frame's type and body, header stripped, still
// needing type dispatch.
type RawFrame struct {
	Type uint8
	Body []byte
}

// Feed appends newly read bytes and returns every complete frame now
// available, plus any decode error encountered (which is terminal for
// the connection - the framer does not try to resynchronise).
func (f *Framer) Feed(b []byte) ([]RawFrame, error) {
	f.buf = append(f.buf, b...)

	var out []RawFrame

	for {
		if len(f.buf) < headerLen {
			return out, nil
		}

		for _, m := range f.buf[0:16] {
			if m != 0xff {
				return out, decodeErr(BadMarker, "message header marker")
			}
		}

		length := int(ntohs(f.buf[16:18]))
		mtype := f.buf[18]

		if length < headerLen || length > f.maxMessage {
			return out, decodeErr(BadLength, "message length out of bounds")
		}

		if len(f.buf) < length {
			return out, nil // wait for the rest of the body
		}

		out = append(out, RawFrame{Type: mtype, Body: append([]byte{}, f.buf[headerLen:length]...)})
		f.buf = f.buf[length:]
	}
}

// DecodeMessage dispatches a RawFrame's body by its header type.
func DecodeMessage(mtype uint8, body []byte, sess Session) (message, error) {
	switch mtype {
	case M_OPEN:
		return DecodeOpen(body)
	case M_UPDATE:
		return DecodeUpdate(body, sess)
	case M_NOTIFICATION:
		return DecodeNotification(body)
	case M_KEEPALIVE:
		if len(body) != 0 {
			return nil, decodeErr(BadLength, "KEEPALIVE body must be empty")
		}
		return &Keepalive{}, nil
	case M_ROUTE_REFRESH:
		return DecodeRouteRefresh(body)
	default:
		return nil, decodeErr(UnknownType, "unrecognised message type")
	}
}

// Encode renders any message to its full on-wire frame (header + body).
func Encode(m message) []byte {
	return headerise(m.Type(), m.Body())
}
