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

package pxecore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
	"inet.af/netaddr"

	"github.com/metal-stack/pxeproxy/dhcp"
)

// Every boot reply is sent twice: once to the PXE port, where
// firmware that already holds a lease listens, and once to the
// regular DHCP client port.
var replyPorts = []int{portPXE, dhcp.ClientPort}

var broadcastIP = netaddr.IPv4(255, 255, 255, 255)

func (s *Server) serveDHCP(ctx context.Context, conn dhcp.Conn) error {
	s.log("DHCP", "Listening for PXE clients on %s", s.intf.Name)
	buf := make([]byte, 1<<16)
	for {
		select {
		case <-ctx.Done():
			s.log("DHCP", "Stopped")
			return nil
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.pollInterval())); err != nil {
			return fmt.Errorf("setting DHCP read deadline: %w", err)
		}
		n, err := conn.ReadFrame(buf)
		if err != nil {
			if dhcp.IsTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving DHCP frame: %w", err)
		}
		s.handleFrame(conn, buf[:n])
	}
}

// handleFrame answers one captured frame. A panic while doing so only
// costs that frame.
func (s *Server) handleFrame(conn dhcp.Conn, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.warn("DHCP", "Dropped frame after panic: %v", r)
		}
	}()

	req, err := dhcp.ParseFrame(frame)
	if err != nil {
		if !errors.Is(err, dhcp.ErrNotDHCP) {
			s.debug("DHCP", "Ignoring undecodable frame: %s", err)
		}
		return
	}

	s.checkConflict(req)

	var replyType layers.DHCPMsgType
	switch req.MsgType {
	case layers.DHCPMsgTypeDiscover:
		replyType = layers.DHCPMsgTypeOffer
	case layers.DHCPMsgTypeRequest:
		replyType = layers.DHCPMsgTypeAck
	default:
		return
	}
	if s.PXEOnly && !isPXEClient(req.Options) {
		s.debug("DHCP", "Ignoring %s from %s: not a PXE client", req.MsgType, req.CHAddr)
		return
	}
	s.trace(frame)

	c := Classify(req.Options, s.BootFiles)
	s.counters().requests.WithLabelValues(req.MsgType.String(), c.Phase).Inc()

	for _, port := range replyPorts {
		reply, err := dhcp.CraftReply(dhcp.ReplyParams{
			Request:   req,
			MsgType:   replyType,
			ServerIP:  s.ServerIP.IPAddr().IP,
			ServerMAC: s.mac,
			DstPort:   port,
			BootFile:  c.BootFile,
		})
		if err != nil {
			s.warn("DHCP", "Failed to build %s for %s: %s", replyType, req.CHAddr, err)
			return
		}
		if err := conn.WriteFrame(reply); err != nil {
			s.warn("DHCP", "Failed to send %s to %s on port %d: %s", replyType, req.CHAddr, port, err)
			continue
		}
		s.trace(reply)
		s.counters().replies.WithLabelValues(replyType.String()).Inc()
	}

	s.log("DHCP", "%s -> %s for %s (phase=%s, arch=%d %s, boot=%s)", req.MsgType, replyType, req.CHAddr, c.Phase, uint16(c.Arch), c.Arch, c.BootFile)
}

// checkConflict warns about DHCP traffic sourced from a unicast
// address other than ours, which means another server is answering
// on this segment.
func (s *Server) checkConflict(req *dhcp.Request) {
	src, ok := netaddr.FromStdIP(req.SrcIP)
	if !ok || src.IsUnspecified() || src == s.ServerIP || src == broadcastIP {
		return
	}
	s.counters().conflicts.Inc()
	s.warn("DHCP", "Possible DHCP conflict: %s sent %s from %s", src, msgTypeName(req.MsgType), req.CHAddr)
}

func msgTypeName(t layers.DHCPMsgType) string {
	if t == 0 {
		return "BOOTP"
	}
	return t.String()
}

func (s *Server) trace(frame []byte) {
	if s.Trace == nil {
		return
	}
	if err := s.Trace.WriteFrame(time.Now(), frame); err != nil {
		s.debug("DHCP", "Failed to write trace: %s", err)
	}
}
