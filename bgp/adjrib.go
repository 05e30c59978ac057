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

// entryState is whether an Adj-RIB-Out slot is currently advertised
// or has been withdrawn and is only waiting to be purged once the
// withdraw has gone out on the wire.
type entryState int

const (
	stateAdvertised entryState = iota
	stateWithdrawn
)

type ribEntry struct {
	attrs  Attributes
	labels []Label // preserved for labeled/VPN families, so Requeue can re-encode a full NLRI
	state  entryState
}

// AdjRIBOut is the per-peer, per-family versioned announcement store.
// It holds the currently-advertised Attributes for each NLRIKey plus a
// pending queue of Changes not yet serialised; Flush packs the
// pending queue into UPDATE messages bounded by the negotiated
// maximum message size, withdraws ordered ahead of announces for the
// same key.
type AdjRIBOut struct {
	Family Family

	entries map[NLRIKey]ribEntry
	pending []Change

	sendAllWithdraws bool
}

// NewAdjRIBOut constructs an empty store for one negotiated family.
func NewAdjRIBOut(family Family, sendAllWithdraws bool) *AdjRIBOut {
	return &AdjRIBOut{
		Family:           family,
		entries:          map[NLRIKey]ribEntry{},
		sendAllWithdraws: sendAllWithdraws,
	}
}

// Ingest applies one Change to the store per the insertion/withdraw
// policy: an ANNOUNCE replaces any existing entry
// for the key and is idempotent (no wire output) if the attributes
// are structurally unchanged; a WITHDRAW for a key never announced is
// suppressed unless sendAllWithdraws was configured.
func (r *AdjRIBOut) Ingest(c Change) {
	key := c.Key()

	switch c.NLRI.Action {
	case ANNOUNCE:
		existing, ok := r.entries[key]
		if ok && existing.state == stateAdvertised && existing.attrs.Equal(c.Attributes) {
			return // idempotent, no wire output
		}
		r.entries[key] = ribEntry{attrs: c.Attributes, labels: c.NLRI.Labels, state: stateAdvertised}
		r.pending = append(r.pending, c)

	case WITHDRAW:
		_, ok := r.entries[key]
		if !ok && !r.sendAllWithdraws {
			return // never announced, withdraw suppressed
		}
		delete(r.entries, key)
		r.pending = append(r.pending, c)
	}
}

// Size is the number of currently-advertised entries (used by
// internal/metrics's Adj-RIB-Out size gauge).
func (r *AdjRIBOut) Size() int {
	return len(r.entries)
}

// Requeue re-enters every currently-advertised entry into the pending
// queue as a fresh ANNOUNCE, used when a graceful-restart-preserved
// Adj-RIB-Out needs to be re-emitted in full to a peer that just came
// back up into ESTABLISHED.
func (r *AdjRIBOut) Requeue() {
	for key, e := range r.entries {
		if e.state != stateAdvertised {
			continue
		}
		n := keyToNLRI(key)
		n.Labels = e.labels
		r.pending = append(r.pending, Change{NLRI: n, Attributes: e.attrs})
	}
}

// pendingBatch groups same-Attributes announces together (and all
// withdraws together) so Flush can pack each group into as few
// UPDATEs as the max message size allows, per §4.5's batching rule.
type pendingBatch struct {
	action Action
	attrs  Attributes // unused for WITHDRAW batches
	nlri   []NLRI
}

// Flush drains the pending queue into a sequence of Update messages
// for the given Session, respecting maxSize and keeping any withdraw
// ordered ahead of a later announce for the same key: because Ingest
// already appends a withdraw before any later announce for the same
// key re-enters pending, preserving pending's order is enough - Flush
// never reorders across different keys' withdraw/announce pairs
// relative to each other, only groups identical Attributes together
// within a single pass.
func (r *AdjRIBOut) Flush(sess Session) []Update {
	if len(r.pending) == 0 {
		return nil
	}

	batches := groupPending(r.pending)
	r.pending = nil

	var updates []Update
	for _, batch := range batches {
		updates = append(updates, packBatch(batch, sess, r.Family)...)
	}

	return updates
}

func groupPending(changes []Change) []pendingBatch {
	var batches []pendingBatch

	// withdraws keyed by nothing (one batch, order preserved);
	// announces keyed by attribute hash so identical-attribute
	// entries pack together, but a new hash starts a fresh batch in
	// the order first seen, preserving overall withdraw-before-
	// announce-per-key sequencing from the pending queue.
	index := map[uint64]int{} // attrs hash -> batches index, announces only
	var withdrawBatch *pendingBatch

	for _, c := range changes {
		n := c.NLRI
		if c.NLRI.Action == WITHDRAW {
			if withdrawBatch == nil {
				batches = append(batches, pendingBatch{action: WITHDRAW})
				withdrawBatch = &batches[len(batches)-1]
				// an announce batch opened before this withdraw must
				// never absorb a later announce for the same key - that
				// would place the re-announce ahead of the withdraw on
				// the wire, the opposite of the required ordering.
				index = map[uint64]int{}
			}
			withdrawBatch.nlri = append(withdrawBatch.nlri, n)
			continue
		}

		h := c.Attributes.Hash()
		if idx, ok := index[h]; ok {
			batches[idx].nlri = append(batches[idx].nlri, n)
			continue
		}
		batches = append(batches, pendingBatch{action: ANNOUNCE, attrs: c.Attributes, nlri: []NLRI{n}})
		index[h] = len(batches) - 1
		withdrawBatch = nil // force a fresh withdraw batch after an announce run
	}

	return batches
}

// packBatch splits one same-Attributes batch across as many UPDATE
// messages as needed to respect sess.MaxMessageSize().
func packBatch(batch pendingBatch, sess Session, family Family) []Update {
	const estimatedOverhead = 64 // header + attribute framing slack

	maxSize := sess.MaxMessageSize() - estimatedOverhead

	var updates []Update
	var current []NLRI

	flush := func() {
		if len(current) == 0 {
			return
		}
		if batch.action == WITHDRAW {
			updates = append(updates, withdrawUpdate(family, current, sess))
		} else {
			updates = append(updates, announceUpdate(family, batch.attrs, current, sess))
		}
		current = nil
	}

	size := 0
	for _, n := range batch.nlri {
		e, err := EncodeNLRI(n, sess)
		if err != nil {
			continue
		}
		if size+len(e) > maxSize && len(current) > 0 {
			flush()
			size = 0
		}
		current = append(current, n)
		size += len(e)
	}
	flush()

	return updates
}

func withdrawUpdate(family Family, nlri []NLRI, sess Session) Update {
	if family == FAMILY_IPV4_UNICAST {
		return Update{WithdrawnRoutes: nlri}
	}
	return Update{Attributes: Attributes{
		MP_UNREACH_NLRI: {Type: MP_UNREACH_NLRI, Flags: ONCR, MPUnreach: &MPUnreach{Family: family, NLRI: nlri}},
	}}
}

func announceUpdate(family Family, attrs Attributes, nlri []NLRI, sess Session) Update {
	if family == FAMILY_IPV4_UNICAST {
		return Update{Attributes: attrs, NLRI: nlri}
	}

	out := Attributes{}
	for k, v := range attrs {
		out[k] = v
	}

	nextHop := attrs[NEXT_HOP].NextHop
	out[MP_REACH_NLRI] = Attribute{
		Type:  MP_REACH_NLRI,
		Flags: ONCR,
		MPReach: &MPReach{Family: family, NextHop: nextHop, NLRI: nlri},
	}
	delete(out, NEXT_HOP) // NEXT_HOP rides inside MP_REACH for non-IPv4-unicast families

	return Update{Attributes: out}
}
