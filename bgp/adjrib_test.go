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

import "testing"

func testAttrs(nextHop byte) Attributes {
	return Attributes{
		ORIGIN:   {Type: ORIGIN, Flags: WTCR, Origin: IGP},
		NEXT_HOP: {Type: NEXT_HOP, Flags: WTCR, NextHop: []byte{10, 0, 0, nextHop}},
	}
}

func testChange(addr byte, action Action, attrs Attributes) Change {
	return Change{
		NLRI: NLRI{
			Family: FAMILY_IPV4_UNICAST,
			Action: action,
			Prefix: []byte{10, 0, 0, addr},
			Length: 32,
		},
		Attributes: attrs,
	}
}

func TestAdjRIBOutIngestIdempotentAnnounce(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV4_UNICAST, false)
	attrs := testAttrs(1)

	rib.Ingest(testChange(1, ANNOUNCE, attrs))
	rib.Ingest(testChange(1, ANNOUNCE, attrs))

	if rib.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", rib.Size())
	}
	if len(rib.pending) != 1 {
		t.Fatalf("repeating an identical announce must not re-queue it, pending = %d", len(rib.pending))
	}
}

func TestAdjRIBOutIngestChangedAttributesRequeues(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV4_UNICAST, false)

	rib.Ingest(testChange(1, ANNOUNCE, testAttrs(1)))
	rib.Ingest(testChange(1, ANNOUNCE, testAttrs(2)))

	if len(rib.pending) != 2 {
		t.Fatalf("a changed announce must re-queue, pending = %d", len(rib.pending))
	}
}

func TestAdjRIBOutWithdrawNeverAnnouncedSuppressed(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV4_UNICAST, false)

	rib.Ingest(testChange(9, WITHDRAW, nil))

	if len(rib.pending) != 0 {
		t.Fatalf("withdraw of a never-announced key must be suppressed, pending = %d", len(rib.pending))
	}
}

func TestAdjRIBOutWithdrawAllForcesEmission(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV4_UNICAST, true)

	rib.Ingest(testChange(9, WITHDRAW, nil))

	if len(rib.pending) != 1 {
		t.Fatalf("sendAllWithdraws must force emission, pending = %d", len(rib.pending))
	}
}

func TestAdjRIBOutWithdrawRemovesEntry(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV4_UNICAST, false)

	rib.Ingest(testChange(1, ANNOUNCE, testAttrs(1)))
	if rib.Size() != 1 {
		t.Fatalf("Size() after announce = %d, want 1", rib.Size())
	}

	rib.Ingest(testChange(1, WITHDRAW, nil))
	if rib.Size() != 0 {
		t.Fatalf("Size() after withdraw = %d, want 0", rib.Size())
	}
}

func TestAdjRIBOutFlushGroupsByAttributeHash(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV4_UNICAST, false)

	a := testAttrs(1)
	rib.Ingest(testChange(1, ANNOUNCE, a))
	rib.Ingest(testChange(2, ANNOUNCE, a))
	rib.Ingest(testChange(3, ANNOUNCE, testAttrs(2)))

	sess := Session{Families: []Family{FAMILY_IPV4_UNICAST}}
	updates := rib.Flush(sess)

	if len(updates) != 2 {
		t.Fatalf("Flush produced %d updates, want 2 (one per distinct attribute set)", len(updates))
	}
	if len(updates[0].NLRI) != 2 {
		t.Fatalf("first batch carries %d NLRI, want 2", len(updates[0].NLRI))
	}
	if len(rib.pending) != 0 {
		t.Fatal("Flush must drain the pending queue")
	}
}

func TestAdjRIBOutFlushOrdersWithdrawBeforeReannounce(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV4_UNICAST, false)

	rib.Ingest(testChange(1, ANNOUNCE, testAttrs(1)))
	rib.Flush(Session{})
	rib.Ingest(testChange(1, WITHDRAW, nil))
	rib.Ingest(testChange(1, ANNOUNCE, testAttrs(2)))

	sess := Session{}
	updates := rib.Flush(sess)

	if len(updates) != 2 {
		t.Fatalf("Flush produced %d updates, want 2 (withdraw, then announce)", len(updates))
	}
	if len(updates[0].WithdrawnRoutes) != 1 {
		t.Fatalf("first update must be the withdraw, got %+v", updates[0])
	}
	if len(updates[1].NLRI) != 1 {
		t.Fatalf("second update must be the re-announce, got %+v", updates[1])
	}
}

func TestAdjRIBOutFlushEmptyIsNoOp(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV4_UNICAST, false)
	if updates := rib.Flush(Session{}); updates != nil {
		t.Fatalf("Flush with nothing pending = %+v, want nil", updates)
	}
}

func TestAdjRIBOutFlushUsesMPReachForNonIPv4Unicast(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV6_UNICAST, false)

	nh := []byte{0x20, 0x01, 0x0d, 0xb8}
	c := Change{
		NLRI: NLRI{
			Family: FAMILY_IPV6_UNICAST,
			Action: ANNOUNCE,
			Prefix: []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
			Length: 32,
		},
		Attributes: Attributes{
			ORIGIN:   {Type: ORIGIN, Flags: WTCR, Origin: IGP},
			NEXT_HOP: {Type: NEXT_HOP, Flags: WTCR, NextHop: nh},
		},
	}
	rib.Ingest(c)

	updates := rib.Flush(Session{})
	if len(updates) != 1 {
		t.Fatalf("Flush produced %d updates, want 1", len(updates))
	}
	mp := updates[0].Attributes[MP_REACH_NLRI]
	if mp.MPReach == nil {
		t.Fatal("expected MP_REACH_NLRI to be populated")
	}
	if _, ok := updates[0].Attributes[NEXT_HOP]; ok {
		t.Fatal("NEXT_HOP must not also be carried as a separate flat attribute for a non-IPv4-unicast family")
	}
}

func TestAdjRIBOutRequeueReAnnouncesAdvertisedEntries(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV4_UNICAST, false)
	rib.Ingest(testChange(1, ANNOUNCE, testAttrs(1)))
	rib.Ingest(testChange(2, ANNOUNCE, testAttrs(1)))
	rib.Ingest(testChange(3, WITHDRAW, Attributes{}))

	rib.Flush(Session{}) // drain the initial announces so pending starts empty

	rib.Requeue()

	if len(rib.pending) != 2 {
		t.Fatalf("Requeue() queued %d changes, want 2 (only currently-advertised entries)", len(rib.pending))
	}
	for _, c := range rib.pending {
		if c.NLRI.Action != ANNOUNCE {
			t.Fatalf("Requeue() must only produce ANNOUNCE changes, got %v", c.NLRI.Action)
		}
	}
}

// TestAdjRIBOutFlushOrdersReannounceAfterWithdrawForSameKey covers the
// announce/withdraw/announce sequence for one key accumulated before a
// single Flush: the re-announce must never be packed into the batch
// that precedes the withdraw, or an observer replaying the wire would
// reconstruct the key as withdrawn even though it ends up advertised.
func TestAdjRIBOutFlushOrdersReannounceAfterWithdrawForSameKey(t *testing.T) {
	rib := NewAdjRIBOut(FAMILY_IPV4_UNICAST, false)
	attrs := testAttrs(1)

	rib.Ingest(testChange(1, ANNOUNCE, attrs))
	rib.Ingest(testChange(1, WITHDRAW, Attributes{}))
	rib.Ingest(testChange(1, ANNOUNCE, attrs))

	if rib.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 (the key ends up advertised)", rib.Size())
	}

	updates := rib.Flush(Session{})
	if len(updates) != 3 {
		t.Fatalf("Flush produced %d updates, want 3 (announce, withdraw, announce kept separate)", len(updates))
	}

	if len(updates[0].NLRI) != 1 || len(updates[0].WithdrawnRoutes) != 0 {
		t.Fatalf("update 0 = %+v, want a plain announce", updates[0])
	}
	if len(updates[1].WithdrawnRoutes) != 1 || len(updates[1].NLRI) != 0 {
		t.Fatalf("update 1 = %+v, want a plain withdraw", updates[1])
	}
	if len(updates[2].NLRI) != 1 || len(updates[2].WithdrawnRoutes) != 0 {
		t.Fatalf("update 2 = %+v, want the re-announce, after the withdraw", updates[2])
	}
}
