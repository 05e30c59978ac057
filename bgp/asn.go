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

// ASN is an autonomous system number. The wire representation is
// either 2 or 4 bytes depending on whether the 4-byte ASN capability
// (RFC 6793) was negotiated in both directions of a session.
type ASN uint32

func (a ASN) fitsIn2Bytes() bool {
	return a <= 0xFFFF
}

func encodeASN2(a ASN) [2]byte {
	if !a.fitsIn2Bytes() {
		return htons(AS_TRANS)
	}
	return htons(uint16(a))
}

func encodeASN4(a ASN) [4]byte {
	return htonl(uint32(a))
}

func decodeASN2(b []byte) ASN {
	return ASN(ntohs(b))
}

func decodeASN4(b []byte) ASN {
	return ASN(ntohl(b))
}
