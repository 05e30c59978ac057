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

// Change is the unit the configuration loader and the control pipe
// both produce: an ANNOUNCE change asserts that NLRI is currently
// advertised with Attributes; a WITHDRAW change asserts it is not.
// PathID is carried unconditionally regardless of whether add-path
// has been negotiated yet for NLRI.Family - the Adj-RIB-Out decides
// at flush time whether the negotiated direction allows emitting it.
type Change struct {
	NLRI       NLRI
	Attributes Attributes
}

// Key identifies this Change's slot in an Adj-RIB-Out.
func (c Change) Key() NLRIKey {
	return c.NLRI.Key()
}
