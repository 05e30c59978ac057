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

// Package log provides an interface-shaped logging contract (callers
// depend on an interface, not a concrete logger, and pass a facility
// string plus a KV bag of structured fields) backed by zap.
package log

import "go.uber.org/zap"

// KV is a bag of structured fields passed alongside a facility name.
type KV = map[string]any

// Logger is the structured, leveled sink every package in this module
// depends on.
type Logger interface {
	DEBUG(facility string, kv KV)
	NOTICE(facility string, kv KV)
	WARNING(facility string, kv KV)
	ERR(facility string, kv KV)
}

// Nil discards everything, matching log.Nil.
type Nil struct{}

func (Nil) DEBUG(string, KV)   {}
func (Nil) NOTICE(string, KV)  {}
func (Nil) WARNING(string, KV) {}
func (Nil) ERR(string, KV)     {}

type zapLogger struct {
	z *zap.Logger
}

// New wraps a *zap.Logger (typically zap.NewProduction() or
// zap.NewDevelopment()) as a Logger.
func New(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

// NewProduction builds a default JSON production logger, the way
// pobradovic08-route-beacon-ri/cmd/rib-ingester wires zap.NewProduction.
func NewProduction() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return New(z), nil
}

func fields(kv KV) []zap.Field {
	fs := make([]zap.Field, 0, len(kv))
	for k, v := range kv {
		fs = append(fs, zap.Any(k, v))
	}
	return fs
}

func (l *zapLogger) DEBUG(facility string, kv KV) {
	l.z.Debug(facility, fields(kv)...)
}

func (l *zapLogger) NOTICE(facility string, kv KV) {
	l.z.Info(facility, fields(kv)...)
}

func (l *zapLogger) WARNING(facility string, kv KV) {
	l.z.Warn(facility, fields(kv)...)
}

func (l *zapLogger) ERR(facility string, kv KV) {
	l.z.Error(facility, fields(kv)...)
}
