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

func TestCanonicalizeFlowOrdersByType(t *testing.T) {
	in := []FlowComponent{
		{Type: FlowIPProtocol, Value: []byte{0x81, 0x06}},
		{Type: FlowDestinationPrefix, Value: []byte{24, 10, 0, 0}},
	}
	out := canonicalizeFlow(in)
	if out[0].Type != FlowDestinationPrefix || out[1].Type != FlowIPProtocol {
		t.Fatalf("canonicalizeFlow did not sort ascending by type: %+v", out)
	}
}

func TestCanonicalizeFlowBreaksTiesByValue(t *testing.T) {
	in := []FlowComponent{
		{Type: FlowPort, Value: []byte{0x81, 0x50}},
		{Type: FlowPort, Value: []byte{0x81, 0x16}},
	}
	out := canonicalizeFlow(in)
	if bytes.Compare(out[0].Value, out[1].Value) >= 0 {
		t.Fatalf("same-type components not ordered lexicographically by value: %+v", out)
	}
}

func TestEncodeDecodeFlowNLRIRoundTrip(t *testing.T) {
	n := NLRI{
		Family: FAMILY_IPV4_FLOWSPEC,
		Action: ANNOUNCE,
		Flow: []FlowComponent{
			{Type: FlowDestinationPrefix, Value: []byte{24, 10, 0, 0}},
			{Type: FlowIPProtocol, Value: []byte{0x81, 0x06}},
		},
	}

	enc, err := EncodeNLRI(n, Session{})
	if err != nil {
		t.Fatalf("EncodeNLRI: %v", err)
	}

	dec, consumed, err := DecodeNLRI(FAMILY_IPV4_FLOWSPEC, ANNOUNCE, enc, Session{})
	if err != nil {
		t.Fatalf("DecodeNLRI: %v", err)
	}
	if consumed != len(enc) {
		t.Fatalf("consumed %d, want %d", consumed, len(enc))
	}
	if len(dec.Flow) != 2 {
		t.Fatalf("decoded %d flow components, want 2", len(dec.Flow))
	}
	if dec.Flow[0].Type != FlowDestinationPrefix || dec.Flow[1].Type != FlowIPProtocol {
		t.Fatalf("decoded flow not in canonical order: %+v", dec.Flow)
	}
}

func TestEncodeFlowNLRIShortForm(t *testing.T) {
	n := NLRI{
		Family: FAMILY_IPV4_FLOWSPEC,
		Action: ANNOUNCE,
		Flow:   []FlowComponent{{Type: FlowIPProtocol, Value: []byte{0x81, 0x11}}},
	}
	enc, err := EncodeNLRI(n, Session{})
	if err != nil {
		t.Fatalf("EncodeNLRI: %v", err)
	}
	if enc[0]&0xF0 == 0xF0 {
		t.Fatalf("a rule under 240 bytes must use the single-octet length form, got % x", enc)
	}
	if int(enc[0]) != len(enc)-1 {
		t.Fatalf("length octet %d does not match body length %d", enc[0], len(enc)-1)
	}
}

func TestEncodeFlowNLRIExtendedLengthForm(t *testing.T) {
	components := make([]FlowComponent, 0, 80)
	for i := 0; i < 80; i++ {
		components = append(components, FlowComponent{Type: FlowDestinationPort, Value: []byte{0x81, byte(i)}})
	}
	n := NLRI{Family: FAMILY_IPV4_FLOWSPEC, Action: ANNOUNCE, Flow: components}

	enc, err := EncodeNLRI(n, Session{})
	if err != nil {
		t.Fatalf("EncodeNLRI: %v", err)
	}
	if enc[0]&0xF0 != 0xF0 {
		t.Fatalf("a rule at or above 240 bytes must use the two-octet length form, got leading byte %#x", enc[0])
	}

	dec, consumed, err := DecodeNLRI(FAMILY_IPV4_FLOWSPEC, ANNOUNCE, enc, Session{})
	if err != nil {
		t.Fatalf("DecodeNLRI: %v", err)
	}
	if consumed != len(enc) {
		t.Fatalf("consumed %d, want %d", consumed, len(enc))
	}
	if len(dec.Flow) != 80 {
		t.Fatalf("decoded %d flow components, want 80", len(dec.Flow))
	}
}

func TestDecodeFlowNLRIRejectsTruncatedOperatorComponent(t *testing.T) {
	// FlowPort component whose single op/value pair is missing its
	// value byte, and whose end-of-list bit is never set.
	raw := []byte{2, FlowPort, 0x01}
	if _, _, err := DecodeNLRI(FAMILY_IPV4_FLOWSPEC, ANNOUNCE, raw, Session{}); err == nil {
		t.Fatal("expected error decoding a truncated flowspec operator component")
	}
}

func TestEncodeFlowNLRIVPNCarriesRD(t *testing.T) {
	rd := RDFromASN(65000, 5)
	n := NLRI{
		Family: FAMILY_IPV4_FLOWSPEC_VPN,
		Action: ANNOUNCE,
		RD:     rd,
		HasRD:  true,
		Flow:   []FlowComponent{{Type: FlowDestinationPrefix, Value: []byte{24, 10, 0, 0}}},
	}

	enc, err := EncodeNLRI(n, Session{})
	if err != nil {
		t.Fatalf("EncodeNLRI: %v", err)
	}

	dec, _, err := DecodeNLRI(FAMILY_IPV4_FLOWSPEC_VPN, ANNOUNCE, enc, Session{})
	if err != nil {
		t.Fatalf("DecodeNLRI: %v", err)
	}
	if !dec.HasRD || dec.RD != rd {
		t.Fatalf("decoded RD = %+v, want %+v", dec.RD, rd)
	}
}
