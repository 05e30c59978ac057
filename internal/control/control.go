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

// Package control implements the speaker's scripted interface: a pair
// of named FIFOs, <prefix>.in and <prefix>.out, carrying newline-
// terminated commands in and timestamped event lines out. The
// command grammar mirrors exabgp's application/bgp.py front-end
// (original_source/lib/exabgp/application/bgp.go) closely enough that
// existing exabgp-style tooling scripts can drive this speaker too.
package control

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"syscall"
)

// Pipe owns the two FIFOs and the file handles for reading commands
// and writing events. Per §5's shared-resource rule, writes to .out
// must be externally serialised - WriteEvent takes a mutex for exactly
// that reason.
type Pipe struct {
	inPath  string
	outPath string

	in  *os.File
	out *os.File

	mu sync.Mutex
}

// Open creates the <prefix>.in/<prefix>.out FIFOs if they don't
// already exist and opens both ends. Both are opened O_RDWR, so Open
// does not wait for another process to attach to either FIFO.
func Open(prefix string) (*Pipe, error) {
	p := &Pipe{inPath: prefix + ".in", outPath: prefix + ".out"}

	if err := ensureFIFO(p.inPath); err != nil {
		return nil, err
	}
	if err := ensureFIFO(p.outPath); err != nil {
		return nil, err
	}

	in, err := os.OpenFile(p.inPath, os.O_RDWR, os.ModeNamedPipe)
	if err != nil {
		return nil, fmt.Errorf("control: opening %s: %w", p.inPath, err)
	}
	p.in = in

	out, err := os.OpenFile(p.outPath, os.O_RDWR, os.ModeNamedPipe)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("control: opening %s: %w", p.outPath, err)
	}
	p.out = out

	return p, nil
}

func ensureFIFO(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := syscall.Mkfifo(path, 0600); err != nil {
		return fmt.Errorf("control: mkfifo %s: %w", path, err)
	}
	return nil
}

// Close releases both file handles; it does not remove the FIFOs from
// the filesystem, matching the teacher's preference for leaving
// transport plumbing for the operator to clean up.
func (p *Pipe) Close() error {
	err1 := p.in.Close()
	err2 := p.out.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Commands starts a goroutine reading newline-terminated lines from
// .in and sending each parsed Command on the returned channel. Lines
// that fail to parse are sent as a Command with a non-nil Err instead
// of being dropped silently, so a caller can report the rejection back
// over .out. The channel closes only when reading .in ends or fails
// (for example once Close has run): Open opens .in O_RDWR, so this
// process holds a writer itself and EOF is never observed just because
// no client currently has it open for writing.
func (p *Pipe) Commands() <-chan Command {
	out := make(chan Command)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			line := scanner.Text()
			cmd, err := ParseLine(line)
			cmd.Raw = line
			cmd.Err = err
			out <- cmd
		}
	}()
	return out
}

// WriteEvent appends one newline-terminated event line to .out.
func (p *Pipe) WriteEvent(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.out.WriteString(line + "\n")
	return err
}
