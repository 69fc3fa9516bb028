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
	"bytes"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"inet.af/netaddr"
)

// FallbackMAC is the source address of replies sent from an
// interface without a usable hardware address. It comes from the
// documentation range of RFC 7042.
var FallbackMAC = net.HardwareAddr{0x02, 0x00, 0x5e, 0x00, 0x53, 0x01}

// ErrNoInterface is returned when no interface can carry boot replies.
var ErrNoInterface = errors.New("no usable network interface")

type candidate struct {
	intf     *net.Interface
	prefixes []netaddr.IPPrefix
}

type match int

const (
	matchNone match = iota
	matchAddress
	matchSubnet
	matchFallback
)

// ResolveInterface finds the interface to send and receive DHCP
// frames on, and the hardware address to send them from.
//
// An override name is used as is. Otherwise the interface holding
// serverIP wins, then one whose subnet contains it, then the first
// interface that is up and not a loopback. The last case is logged,
// since replies probably won't reach anyone.
func ResolveInterface(serverIP netaddr.IP, override string, log *zap.SugaredLogger) (*net.Interface, net.HardwareAddr, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var intf *net.Interface
	if override != "" {
		i, err := net.InterfaceByName(override)
		if err != nil {
			return nil, nil, fmt.Errorf("looking up interface %q: %w", override, err)
		}
		intf = i
	} else {
		ifaces, err := net.Interfaces()
		if err != nil {
			return nil, nil, fmt.Errorf("listing interfaces: %w", err)
		}
		cands := make([]candidate, 0, len(ifaces))
		for i := range ifaces {
			addrs, err := ifaces[i].Addrs()
			if err != nil {
				continue
			}
			cands = append(cands, candidate{&ifaces[i], prefixes(addrs)})
		}

		var how match
		intf, how = pickInterface(cands, serverIP)
		switch how {
		case matchNone:
			return nil, nil, fmt.Errorf("%w for %s", ErrNoInterface, serverIP)
		case matchFallback:
			log.Warnw("no interface holds the server address, falling back", "ip", serverIP, "interface", intf.Name)
		}
	}

	return intf, hardwareAddr(intf), nil
}

func pickInterface(cands []candidate, ip netaddr.IP) (*net.Interface, match) {
	for _, c := range cands {
		for _, p := range c.prefixes {
			if p.IP() == ip {
				return c.intf, matchAddress
			}
		}
	}
	for _, c := range cands {
		for _, p := range c.prefixes {
			if p.Contains(ip) {
				return c.intf, matchSubnet
			}
		}
	}
	for _, c := range cands {
		if c.intf.Flags&net.FlagUp != 0 && c.intf.Flags&net.FlagLoopback == 0 {
			return c.intf, matchFallback
		}
	}
	return nil, matchNone
}

func prefixes(addrs []net.Addr) []netaddr.IPPrefix {
	var ret []netaddr.IPPrefix
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		p, ok := netaddr.FromStdIPNet(ipnet)
		if !ok || !p.IP().Is4() {
			continue
		}
		ret = append(ret, p)
	}
	return ret
}

var zeroMAC = make(net.HardwareAddr, 6)

func hardwareAddr(intf *net.Interface) net.HardwareAddr {
	if len(intf.HardwareAddr) != 6 || bytes.Equal(intf.HardwareAddr, zeroMAC) {
		return FallbackMAC
	}
	return intf.HardwareAddr
}
