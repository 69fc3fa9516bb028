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

// Package dhcp decodes observed DHCP frames and crafts raw PXE boot
// replies. All knowledge of the Ethernet, IPv4, UDP and BOOTP layouts
// used by the proxy lives in this package.
package dhcp

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mdlayher/ethernet"
)

// Well-known DHCP ports.
const (
	ServerPort = 67
	ClientPort = 68
)

// ErrNotDHCP is returned by ParseFrame for frames that do not carry a
// BOOTP/DHCP payload on the DHCP ports.
var ErrNotDHCP = errors.New("not a DHCP frame")

// PXEDiscoveryControl is the value of option 43 in every boot reply:
// PXE sub-option 6 (discovery control), length 1, bit 3 set, which
// disables multicast and broadcast discovery and tells the client to
// boot straight from the file name.
var PXEDiscoveryControl = []byte{6, 1, 8}

// pxeVendorClass is sent as option 60 in replies. PXE firmware ignores
// proxyDHCP offers that do not identify as a PXEClient.
const pxeVendorClass = "PXEClient"

// maxFileLen is the size of the BOOTP file field.
const maxFileLen = 128

// A Request is the part of an observed DHCP packet the proxy cares
// about. It lives only while one packet is handled.
type Request struct {
	Xid     uint32
	CHAddr  net.HardwareAddr
	SrcIP   net.IP
	SrcPort int
	DstPort int
	// MsgType is zero if option 53 is missing or malformed.
	MsgType layers.DHCPMsgType
	Options Options
}

// ParseFrame decodes an Ethernet frame into a Request. It returns
// ErrNotDHCP for traffic that is not BOOTP on UDP port 67 or 68.
func ParseFrame(frame []byte) (*Request, error) {
	var (
		eth   layers.Ethernet
		ip4   layers.IPv4
		udp   layers.UDP
		dhcp4 layers.DHCPv4
	)
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &ip4, &udp, &dhcp4)
	parser.IgnoreUnsupported = true

	decoded := make([]gopacket.LayerType, 0, 4)
	if err := parser.DecodeLayers(frame, &decoded); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	var haveUDP, haveDHCP bool
	for _, lt := range decoded {
		switch lt {
		case layers.LayerTypeUDP:
			haveUDP = true
		case layers.LayerTypeDHCPv4:
			haveDHCP = true
		}
	}
	if !haveUDP || !haveDHCP {
		return nil, ErrNotDHCP
	}
	if !isDHCPPort(int(udp.SrcPort)) && !isDHCPPort(int(udp.DstPort)) {
		return nil, ErrNotDHCP
	}

	req := &Request{
		Xid:     dhcp4.Xid,
		CHAddr:  append(net.HardwareAddr(nil), dhcp4.ClientHWAddr...),
		SrcIP:   append(net.IP(nil), ip4.SrcIP.To4()...),
		SrcPort: int(udp.SrcPort),
		DstPort: int(udp.DstPort),
		Options: optionsFromLayer(dhcp4.Options),
	}
	if mt, ok := req.Options.Byte(OptMessageType); ok {
		req.MsgType = layers.DHCPMsgType(mt)
	}
	return req, nil
}

func isDHCPPort(p int) bool {
	return p == ServerPort || p == ClientPort
}

// ReplyParams describes one boot reply.
type ReplyParams struct {
	Request   *Request
	MsgType   layers.DHCPMsgType
	ServerIP  net.IP
	ServerMAC net.HardwareAddr
	DstPort   int
	BootFile  string
}

// CraftReply builds a complete broadcast Ethernet frame carrying a
// proxyDHCP boot reply for p.Request.
func CraftReply(p ReplyParams) ([]byte, error) {
	if p.Request == nil {
		return nil, errors.New("no request to reply to")
	}
	serverIP := p.ServerIP.To4()
	if serverIP == nil {
		return nil, fmt.Errorf("server address %s is not IPv4", p.ServerIP)
	}
	if len(p.ServerMAC) != 6 {
		return nil, fmt.Errorf("hardware address %s is not ethernet", p.ServerMAC)
	}
	if len(p.BootFile) > maxFileLen {
		return nil, fmt.Errorf("boot file name %q does not fit the BOOTP file field", p.BootFile)
	}
	if len(p.Request.CHAddr) > 16 {
		return nil, fmt.Errorf("client hardware address %s is too long", p.Request.CHAddr)
	}

	eth := &layers.Ethernet{
		SrcMAC:       p.ServerMAC,
		DstMAC:       ethernet.Broadcast,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    serverIP,
		DstIP:    net.IPv4bcast.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(ServerPort),
		DstPort: layers.UDPPort(p.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
		return nil, err
	}
	boot := &layers.DHCPv4{
		Operation:    layers.DHCPOpReply,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  uint8(len(p.Request.CHAddr)),
		Xid:          p.Request.Xid,
		Flags:        0x8000,
		ClientIP:     net.IPv4zero.To4(),
		YourClientIP: net.IPv4zero.To4(),
		NextServerIP: serverIP,
		RelayAgentIP: net.IPv4zero.To4(),
		ClientHWAddr: p.Request.CHAddr,
		File:         []byte(p.BootFile),
		Options: layers.DHCPOptions{
			layers.NewDHCPOption(OptMessageType, []byte{byte(p.MsgType)}),
			layers.NewDHCPOption(OptServerID, serverIP),
			layers.NewDHCPOption(OptVendorClass, []byte(pxeVendorClass)),
			layers.NewDHCPOption(OptVendorSpecific, PXEDiscoveryControl),
			layers.NewDHCPOption(OptTFTPServerName, []byte(serverIP.String())),
			layers.NewDHCPOption(OptBootfileName, []byte(p.BootFile)),
		},
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, udp, boot); err != nil {
		return nil, fmt.Errorf("serializing boot reply: %w", err)
	}
	return buf.Bytes(), nil
}
