// Copyright 2016 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dhcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/raw"
	"golang.org/x/net/bpf"
)

// Conn is a link-layer socket that passively observes DHCP traffic
// and transmits complete Ethernet frames.
type Conn interface {
	io.Closer
	// ReadFrame reads the next captured frame into b.
	ReadFrame(b []byte) (int, error)
	// WriteFrame transmits a complete Ethernet frame.
	WriteFrame(b []byte) error
	SetReadDeadline(t time.Time) error
}

// captureFilter passes untagged, unfragmented IPv4 UDP frames with a
// source or destination port of 67 or 68.
var captureFilter = []bpf.Instruction{
	// EtherType
	bpf.LoadAbsolute{Off: 12, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(ethernet.EtherTypeIPv4), SkipTrue: 11},
	// IP protocol
	bpf.LoadAbsolute{Off: 23, Size: 1},
	bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 17, SkipTrue: 9},
	// Fragment offset
	bpf.LoadAbsolute{Off: 20, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 7},
	// X = IPv4 header length
	bpf.LoadMemShift{Off: 14},
	// UDP sport
	bpf.LoadIndirect{Off: 14, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: ServerPort, SkipTrue: 5},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: ClientPort, SkipTrue: 4},
	// UDP dport
	bpf.LoadIndirect{Off: 16, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: ServerPort, SkipTrue: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: ClientPort, SkipTrue: 1},
	// Ignore
	bpf.RetConstant{Val: 0},
	// Accept
	bpf.RetConstant{Val: 0xffff},
}

type rawConn struct {
	conn *raw.Conn
	dst  *raw.Addr
}

// NewConn opens a raw socket on intf that captures DHCP traffic in
// both directions and broadcasts frames written to it.
func NewConn(intf *net.Interface) (Conn, error) {
	filter, err := bpf.Assemble(captureFilter)
	if err != nil {
		return nil, fmt.Errorf("assembling packet filter: %w", err)
	}

	c, err := raw.ListenPacket(intf, uint16(ethernet.EtherTypeIPv4), nil)
	if err != nil {
		return nil, fmt.Errorf("opening raw socket on %s: %w", intf.Name, err)
	}
	if err = c.SetBPF(filter); err != nil {
		c.Close()
		return nil, fmt.Errorf("setting packet filter: %w", err)
	}

	return &rawConn{
		conn: c,
		dst:  &raw.Addr{HardwareAddr: ethernet.Broadcast},
	}, nil
}

func (c *rawConn) Close() error {
	return c.conn.Close()
}

func (c *rawConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *rawConn) ReadFrame(b []byte) (int, error) {
	n, _, err := c.conn.ReadFrom(b)
	return n, err
}

func (c *rawConn) WriteFrame(b []byte) error {
	_, err := c.conn.WriteTo(b, c.dst)
	return err
}

// IsTimeout reports whether err is a read deadline expiring.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
