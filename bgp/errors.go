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

import "fmt"

// Kind enumerates the taxonomy of decode errors a speaker can hit
// while parsing a message off the wire. Every Kind maps to a single
// NOTIFICATION code/sub-code pair via notificationFor.
type Kind int

const (
	ShortRead Kind = iota
	BadMarker
	BadLength
	UnknownType
	AttributeFlagMismatch
	MalformedNLRI
	UnsupportedCapability
	MalformedASPath
	MalformedUpdate
)

func (k Kind) String() string {
	switch k {
	case ShortRead:
		return "ShortRead"
	case BadMarker:
		return "BadMarker"
	case BadLength:
		return "BadLength"
	case UnknownType:
		return "UnknownType"
	case AttributeFlagMismatch:
		return "AttributeFlagMismatch"
	case MalformedNLRI:
		return "MalformedNLRI"
	case UnsupportedCapability:
		return "UnsupportedCapability"
	case MalformedASPath:
		return "MalformedASPath"
	case MalformedUpdate:
		return "MalformedUpdate"
	}
	return "Unknown"
}

// DecodeError is a typed decode failure. It is returned up to the FSM
// and translated exactly once into a NOTIFICATION code/sub-code, per
// the error handling design: no decode error is ever silently
// swallowed except unknown non-transitive attributes.
type DecodeError struct {
	Kind    Kind
	Context string
}

func (e *DecodeError) Error() string {
	if e.Context == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func decodeErr(k Kind, context string) *DecodeError {
	return &DecodeError{Kind: k, Context: context}
}

// notificationFor translates a decode error into the RFC-defined
// NOTIFICATION code/sub-code, per the taxonomy in the error handling
// design.
func notificationFor(err error) (code, sub uint8) {
	de, ok := err.(*DecodeError)
	if !ok {
		return UPDATE_MESSAGE_ERROR, MALFORMED_ATTRIBUTE_LIST
	}

	switch de.Kind {
	case ShortRead, BadMarker:
		return MESSAGE_HEADER_ERROR, CONNECTION_NOT_SYNCHRONIZED
	case BadLength:
		return MESSAGE_HEADER_ERROR, BAD_MESSAGE_LENGTH
	case UnknownType:
		return MESSAGE_HEADER_ERROR, BAD_MESSAGE_TYPE
	case AttributeFlagMismatch:
		return UPDATE_MESSAGE_ERROR, ATTRIBUTE_FLAGS_ERROR
	case MalformedNLRI:
		return UPDATE_MESSAGE_ERROR, INVALID_NETWORK_FIELD
	case UnsupportedCapability:
		return OPEN_ERROR, UNSUPPORTED_CAPABILITY
	case MalformedASPath:
		return UPDATE_MESSAGE_ERROR, MALFORMED_AS_PATH
	case MalformedUpdate:
		return UPDATE_MESSAGE_ERROR, MALFORMED_ATTRIBUTE_LIST
	}
	return UPDATE_MESSAGE_ERROR, MALFORMED_ATTRIBUTE_LIST
}
