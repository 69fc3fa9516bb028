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

// Package tftp implements a read-only TFTP server tuned for PXE
// firmware.
//
// The server handles one transfer at a time on a single socket. It
// supports the blksize (RFC 2348) and tsize (RFC 2349) options, and
// works around two firmware bugs in option negotiation.
package tftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBlockSize = 512
	minBlockSize     = 8
	maxBlockSize     = 65464

	defaultBIOSQuirkSuffix = "undionly.kpxe"
	defaultUEFIQuirkSuffix = "ipxe.efi"

	// Read requests that arrive during a transfer wait here.
	maxBacklog = 16
)

// A Handler provides a Reader for the file at path, and its size.
// The size may be -1 if unknown, in which case tsize is not
// acknowledged. Returning an error that wraps ErrNotFound, or one
// for which os.IsNotExist is true, makes the server answer "File not
// found".
type Handler func(path string, clientAddr net.Addr) (io.ReadCloser, int64, error)

// ErrNotFound is returned by handlers for paths they do not serve.
var ErrNotFound = errors.New("file not found")

// ErrAbandoned is passed to TransferLog when a client stopped
// acknowledging blocks.
var ErrAbandoned = errors.New("transfer abandoned, no ACK from client")

// A Server serves files over TFTP.
type Server struct {
	Handler Handler

	// InfoLog specifies an optional logger for informational
	// messages. If nil, informational messages are suppressed.
	InfoLog func(msg string)
	// TransferLog specifies an optional logger for completed
	// transfers. A successful transfer is logged with err == nil.
	// If nil, transfer logs are suppressed.
	TransferLog func(clientAddr net.Addr, path string, err error)

	// BIOSQuirkSuffix names the BIOS first stage loader. A tsize-only
	// request for a file with this suffix only gets an OACK. The
	// firmware asks again, with blksize, to start the transfer.
	BIOSQuirkSuffix string
	// UEFIQuirkSuffix names the UEFI loader. A request for it with
	// both tsize and blksize gets an OACK with only tsize; this
	// firmware aborts if blksize is acknowledged on the first try.
	UEFIQuirkSuffix string

	// AckTimeout is how long to wait for each ACK. Defaults to 2s.
	AckTimeout time.Duration
	// Ack0Timeout is how long to wait for the ACK of an OACK.
	// Defaults to 500ms.
	Ack0Timeout time.Duration
	// Retries is how many times a block is sent before the transfer
	// is abandoned. Defaults to 3.
	Retries int
	// PollInterval bounds each wait for a new request, so that a
	// cancelled context is noticed. Defaults to 1s.
	PollInterval time.Duration
}

type pending struct {
	addr net.Addr
	req  *readRequest
}

// responder is the state of one Serve call.
type responder struct {
	*Server
	conn    net.PacketConn
	buf     []byte
	backlog []pending
}

// Serve serves TFTP read requests received on l until ctx is
// cancelled or l fails. Transfers are serialized: a request is fully
// handled before the next one is read.
func (s *Server) Serve(ctx context.Context, l net.PacketConn) error {
	if s.Handler == nil {
		return errors.New("tftp: no handler")
	}
	r := &responder{
		Server: s,
		conn:   l,
		buf:    make([]byte, 2048),
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if len(r.backlog) > 0 {
			p := r.backlog[0]
			r.backlog = r.backlog[1:]
			r.handle(ctx, p.addr, p.req)
			continue
		}

		b, addr, err := r.read(time.Now().Add(s.pollInterval()))
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.infoLog("receive error: %s", err)
			continue
		}

		req, err := parseRRQ(b)
		if err != nil {
			if !errors.Is(err, errNotRRQ) {
				s.infoLog("malformed request from %s: %s", addr, err)
			}
			continue
		}
		r.handle(ctx, addr, req)
	}
}

// read receives one packet before deadline. The returned slice is
// only valid until the next read.
func (r *responder) read(deadline time.Time) ([]byte, net.Addr, error) {
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, err
	}
	n, addr, err := r.conn.ReadFrom(r.buf)
	if err != nil {
		return nil, nil, err
	}
	return r.buf[:n], addr, nil
}

// deferRequest queues a read request from another client that arrived
// during a transfer.
func (r *responder) deferRequest(b []byte, addr net.Addr) {
	req, err := parseRRQ(b)
	if err != nil {
		return
	}
	if len(r.backlog) >= maxBacklog {
		r.infoLog("dropping request from %s for %q, backlog full", addr, req.filename)
		return
	}
	r.backlog = append(r.backlog, pending{addr, req})
}

func (r *responder) handle(ctx context.Context, addr net.Addr, req *readRequest) {
	r.infoLog("RRQ from %s for %q, mode %q, options %s", addr, req.filename, req.mode, formatOptions(req.options))

	f, size, err := r.Handler(req.filename, addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) || os.IsNotExist(err) {
			r.send(addr, errorPacket(errCodeNotFound, "File not found"))
		} else {
			r.send(addr, errorPacket(errCodeAccessDenied, "Access violation"))
		}
		r.transferLog(addr, req.filename, err)
		return
	}
	defer f.Close()

	name := strings.ToLower(req.filename)
	wantTsize, wantBlksize := req.has("tsize"), req.has("blksize")

	switch {
	case strings.HasSuffix(name, r.biosSuffix()) && wantTsize && !wantBlksize:
		r.infoLog("BIOS first stage request for %q from %s, answering tsize=%d only", req.filename, addr, size)
		r.send(addr, oackPacket(tsizeOption(size)))
		return
	case strings.HasSuffix(name, r.uefiSuffix()) && wantTsize && wantBlksize:
		r.infoLog("UEFI loader request for %q from %s, answering tsize=%d without blksize", req.filename, addr, size)
		r.send(addr, oackPacket(tsizeOption(size)))
		return
	}

	blksize := defaultBlockSize
	if wantTsize || wantBlksize {
		var acked []option
		acked, blksize = negotiate(req.options, size)
		if err := r.send(addr, oackPacket(acked)); err != nil {
			r.transferLog(addr, req.filename, err)
			return
		}
		r.drainAck0(addr)
	}

	err = r.stream(ctx, addr, f, blksize)
	r.transferLog(addr, req.filename, err)
}

// negotiate builds the OACK option list in the client's order, and
// returns the block size to use.
func negotiate(opts []option, size int64) ([]option, int) {
	blksize := defaultBlockSize
	var acked []option
	for _, o := range opts {
		switch o.name {
		case "tsize":
			acked = append(acked, tsizeOption(size)...)
		case "blksize":
			blksize = parseBlockSize(o.value)
			acked = append(acked, option{"blksize", strconv.Itoa(blksize)})
		}
	}
	return acked, blksize
}

// tsizeOption is the tsize answer for a file of the given size. Unknown
// sizes are left out.
func tsizeOption(size int64) []option {
	if size < 0 {
		return nil
	}
	return []option{{"tsize", strconv.FormatInt(size, 10)}}
}

func parseBlockSize(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return defaultBlockSize
	}
	if n < minBlockSize {
		return minBlockSize
	}
	if n > maxBlockSize {
		return maxBlockSize
	}
	return n
}

// drainAck0 swallows the ACK of block 0 that most clients send in
// reply to an OACK. Its absence is not an error.
func (r *responder) drainAck0(addr net.Addr) {
	b, from, err := r.read(time.Now().Add(r.ack0Timeout()))
	if err != nil {
		return
	}
	if !sameAddr(from, addr) {
		r.deferRequest(b, from)
		return
	}
	if block, ok := parseAck(b); ok && block == 0 {
		return
	}
	r.infoLog("expected ACK(0) from %s after OACK, got opcode %d", addr, opcode(b))
}

// stream sends f to addr in blocks of blksize, waiting for each block
// to be acknowledged.
func (r *responder) stream(ctx context.Context, addr net.Addr, f io.Reader, blksize int) error {
	buf := make([]byte, blksize)
	block := uint16(1)
	for {
		n, err := io.ReadFull(f, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			r.send(addr, errorPacket(errCodeUndefined, "Read error"))
			return fmt.Errorf("reading file: %w", err)
		}

		err = r.sendBlock(ctx, addr, dataPacket(block, buf[:n]), block)
		if n < blksize {
			if errors.Is(err, ErrAbandoned) {
				// The client has every byte, it just never confirmed.
				r.infoLog("final block %d to %s was never acknowledged", block, addr)
				return nil
			}
			return err
		}
		if err != nil {
			return err
		}
		block++
	}
}

// sendBlock transmits a DATA packet until it is acknowledged or the
// retry budget runs out.
func (r *responder) sendBlock(ctx context.Context, addr net.Addr, pkt []byte, block uint16) error {
	for attempt := 0; attempt < r.retries(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.send(addr, pkt); err != nil {
			return err
		}
		acked, err := r.waitAck(addr, block)
		if err != nil {
			return err
		}
		if acked {
			return nil
		}
	}
	return fmt.Errorf("block %d: %w", block, ErrAbandoned)
}

// waitAck waits up to AckTimeout for addr to acknowledge block.
// Duplicate ACKs and packets from other clients do not end the wait.
func (r *responder) waitAck(addr net.Addr, block uint16) (bool, error) {
	deadline := time.Now().Add(r.ackTimeout())
	for {
		b, from, err := r.read(deadline)
		if err != nil {
			if isTimeout(err) {
				return false, nil
			}
			return false, err
		}
		if !sameAddr(from, addr) {
			r.deferRequest(b, from)
			continue
		}
		switch opcode(b) {
		case opACK:
			if n, ok := parseAck(b); ok && n == block {
				return true, nil
			}
		case opERROR:
			return false, fmt.Errorf("client aborted transfer at block %d", block)
		}
	}
}

func (r *responder) send(addr net.Addr, pkt []byte) error {
	if _, err := r.conn.WriteTo(pkt, addr); err != nil {
		r.infoLog("send to %s failed: %s", addr, err)
		return err
	}
	return nil
}

func (s *Server) infoLog(format string, args ...interface{}) {
	if s.InfoLog != nil {
		s.InfoLog(fmt.Sprintf(format, args...))
	}
}

func (s *Server) transferLog(addr net.Addr, path string, err error) {
	if s.TransferLog != nil {
		s.TransferLog(addr, path, err)
	}
}

func (s *Server) biosSuffix() string {
	if s.BIOSQuirkSuffix != "" {
		return strings.ToLower(s.BIOSQuirkSuffix)
	}
	return defaultBIOSQuirkSuffix
}

func (s *Server) uefiSuffix() string {
	if s.UEFIQuirkSuffix != "" {
		return strings.ToLower(s.UEFIQuirkSuffix)
	}
	return defaultUEFIQuirkSuffix
}

func (s *Server) ackTimeout() time.Duration {
	if s.AckTimeout > 0 {
		return s.AckTimeout
	}
	return 2 * time.Second
}

func (s *Server) ack0Timeout() time.Duration {
	if s.Ack0Timeout > 0 {
		return s.Ack0Timeout
	}
	return 500 * time.Millisecond
}

func (s *Server) retries() int {
	if s.Retries > 0 {
		return s.Retries
	}
	return 3
}

func (s *Server) pollInterval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return time.Second
}

func sameAddr(a, b net.Addr) bool {
	return a.Network() == b.Network() && a.String() == b.String()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func formatOptions(opts []option) string {
	if len(opts) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(opts))
	for _, o := range opts {
		parts = append(parts, o.name+"="+o.value)
	}
	return strings.Join(parts, ",")
}
