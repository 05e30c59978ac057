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
	"testing"
)

func TestEncodeDecodeNLRIIPv4Unicast(t *testing.T) {
	n := NLRI{
		Family: FAMILY_IPV4_UNICAST,
		Action: ANNOUNCE,
		Prefix: []byte{10, 0, 0, 0},
		Length: 24,
	}

	enc, err := EncodeNLRI(n, Session{})
	if err != nil {
		t.Fatalf("EncodeNLRI: %v", err)
	}
	want := []byte{24, 10, 0, 0}
	if !bytes.Equal(enc, want) {
		t.Fatalf("EncodeNLRI = % x, want % x", enc, want)
	}

	dec, consumed, err := DecodeNLRI(FAMILY_IPV4_UNICAST, ANNOUNCE, enc, Session{})
	if err != nil {
		t.Fatalf("DecodeNLRI: %v", err)
	}
	if consumed != len(enc) {
		t.Fatalf("consumed %d, want %d", consumed, len(enc))
	}
	if dec.Length != 24 || !bytes.Equal(dec.Prefix[:3], []byte{10, 0, 0}) {
		t.Fatalf("decoded NLRI = %+v", dec)
	}
}

func TestEncodeDecodeNLRIWithAddPath(t *testing.T) {
	sess := Session{AddPath: map[Family]AddPathDirection{FAMILY_IPV4_UNICAST: AddPathBoth}}

	n := NLRI{
		Family:    FAMILY_IPV4_UNICAST,
		Action:    ANNOUNCE,
		Prefix:    []byte{192, 0, 2, 0},
		Length:    24,
		PathID:    42,
		HasPathID: true,
	}

	enc, err := EncodeNLRI(n, sess)
	if err != nil {
		t.Fatalf("EncodeNLRI: %v", err)
	}

	dec, consumed, err := DecodeNLRI(FAMILY_IPV4_UNICAST, ANNOUNCE, enc, sess)
	if err != nil {
		t.Fatalf("DecodeNLRI: %v", err)
	}
	if consumed != len(enc) {
		t.Fatalf("consumed %d, want %d", consumed, len(enc))
	}
	if !dec.HasPathID || dec.PathID != 42 {
		t.Fatalf("decoded path-id = %+v", dec)
	}
}

func TestEncodeNLRILabeledUnicast(t *testing.T) {
	n := NLRI{
		Family: FAMILY_IPV4_MPLS,
		Action: ANNOUNCE,
		Prefix: []byte{10, 1, 0, 0},
		Length: 24,
		Labels: []Label{{Value: 16, Bottom: true}},
	}

	enc, err := EncodeNLRI(n, Session{})
	if err != nil {
		t.Fatalf("EncodeNLRI: %v", err)
	}

	dec, _, err := DecodeNLRI(FAMILY_IPV4_MPLS, ANNOUNCE, enc, Session{})
	if err != nil {
		t.Fatalf("DecodeNLRI: %v", err)
	}
	if len(dec.Labels) != 1 || dec.Labels[0].Value != 16 {
		t.Fatalf("decoded labels = %+v", dec.Labels)
	}
	if dec.Length != 24 {
		t.Fatalf("decoded prefix length = %d, want 24", dec.Length)
	}
}

func TestEncodeNLRIWithdrawLabeledUsesDummy(t *testing.T) {
	n := NLRI{
		Family: FAMILY_IPV4_MPLS,
		Action: WITHDRAW,
		Prefix: []byte{10, 1, 0, 0},
		Length: 24,
	}

	enc, err := EncodeNLRI(n, Session{})
	if err != nil {
		t.Fatalf("EncodeNLRI: %v", err)
	}

	dec, _, err := DecodeNLRI(FAMILY_IPV4_MPLS, WITHDRAW, enc, Session{})
	if err != nil {
		t.Fatalf("DecodeNLRI: %v", err)
	}
	if len(dec.Labels) != 1 || !dec.Labels[0].isWithdrawDummy() {
		t.Fatalf("expected withdraw dummy label, got %+v", dec.Labels)
	}
}

func TestEncodeNLRIVPN(t *testing.T) {
	rd := RDFromASN(65000, 1)
	n := NLRI{
		Family: FAMILY_IPV4_VPN,
		Action: ANNOUNCE,
		Prefix: []byte{10, 1, 0, 0},
		Length: 24,
		Labels: []Label{{Value: 16, Bottom: true}},
		RD:     rd,
		HasRD:  true,
	}

	enc, err := EncodeNLRI(n, Session{})
	if err != nil {
		t.Fatalf("EncodeNLRI: %v", err)
	}

	dec, consumed, err := DecodeNLRI(FAMILY_IPV4_VPN, ANNOUNCE, enc, Session{})
	if err != nil {
		t.Fatalf("DecodeNLRI: %v", err)
	}
	if consumed != len(enc) {
		t.Fatalf("consumed %d, want %d", consumed, len(enc))
	}
	if !dec.HasRD || dec.RD != rd {
		t.Fatalf("decoded RD = %+v, want %+v", dec.RD, rd)
	}
	if dec.Length != 24 {
		t.Fatalf("decoded length = %d, want 24", dec.Length)
	}
}

func TestNLRIKeyDistinguishesPathID(t *testing.T) {
	base := NLRI{Family: FAMILY_IPV4_UNICAST, Prefix: []byte{10, 0, 0, 0}, Length: 24}
	a := base
	a.HasPathID, a.PathID = true, 1
	b := base
	b.HasPathID, b.PathID = true, 2

	if a.Key() == b.Key() {
		t.Fatal("two distinct path-ids for the same prefix must produce distinct keys")
	}
}
