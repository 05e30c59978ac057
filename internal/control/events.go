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

package control

import (
	"strconv"
	"strings"
	"time"

	"github.com/dcoles-net/bgpd/bgp"
	"github.com/dcoles-net/bgpd/internal/log"
)

// Sink implements bgp.Notify by rendering each event as one
// "timestamp key=value ..." line and writing it to a Pipe's .out
// FIFO, in the spirit of exabgp's own process event encoding.
// Logging failures to write (a reader that isn't keeping up, or isn't
// there at all) are reported through log rather than returned, since
// Notify's methods have no error return - a missed control-pipe event
// must never be allowed to stall the reactor goroutine.
type Sink struct {
	pipe *Pipe
	log  log.Logger
}

// NewSink builds a Sink writing through pipe, logging any write
// failure via lg (lg may be log.Nil{}).
func NewSink(pipe *Pipe, lg log.Logger) *Sink {
	if lg == nil {
		lg = log.Nil{}
	}
	return &Sink{pipe: pipe, log: lg}
}

func (s *Sink) emit(event string, fields map[string]string) {
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339Nano))
	b.WriteString(" event=")
	b.WriteString(event)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// deterministic field order keeps lines diffable across runs
	sortStrings(keys)

	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(quoteIfNeeded(fields[k]))
	}

	if err := s.pipe.WriteEvent(b.String()); err != nil {
		s.log.WARNING("control", log.KV{"event": "write-failed", "error": err.Error()})
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func quoteIfNeeded(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\"") {
		return strconv.Quote(v)
	}
	return v
}

func (s *Sink) State(peer, from, to string) {
	s.emit("state", map[string]string{"peer": peer, "from": from, "to": to})
}

func (s *Sink) Notification(peer string, sent bool, n *bgp.Notification) {
	s.emit("notification", map[string]string{
		"peer":      peer,
		"direction": dirOf(sent),
		"code":      strconv.Itoa(int(n.Code)),
		"subcode":   strconv.Itoa(int(n.Sub)),
		"reason":    n.String(),
	})
}

func (s *Sink) Update(peer string, sent bool, u *bgp.Update) {
	s.emit("update", map[string]string{
		"peer":      peer,
		"direction": dirOf(sent),
		"announced": strconv.Itoa(len(u.NLRI)),
		"withdrawn": strconv.Itoa(len(u.WithdrawnRoutes)),
	})
}

func (s *Sink) Open(peer string, sent bool, o *bgp.Open) {
	s.emit("open", map[string]string{
		"peer":      peer,
		"direction": dirOf(sent),
		"asn":       strconv.FormatUint(uint64(o.ASN), 10),
		"hold-time": strconv.Itoa(int(o.HoldTime)),
	})
}

func (s *Sink) Refresh(peer string, r *bgp.RouteRefresh) {
	s.emit("route-refresh", map[string]string{
		"peer":   peer,
		"family": r.Family.String(),
	})
}

func dirOf(sent bool) string {
	if sent {
		return "sent"
	}
	return "received"
}

var _ bgp.Notify = (*Sink)(nil)
